package config

type WorkerKeyStruct struct {
	EvaluationJobsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	EvaluationJobsQueue: "evaluation_jobs_queue",
}
