package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

// RedisEvaluationQueue pushes batch jobs onto the evaluation worker queue.
type RedisEvaluationQueue struct {
	rdb *redis.Client
}

// NewRedisEvaluationQueue creates a new RedisEvaluationQueue.
func NewRedisEvaluationQueue(rdb *redis.Client) *RedisEvaluationQueue {
	return &RedisEvaluationQueue{rdb: rdb}
}

// Enqueue appends job to the tail of the queue.
func (q *RedisEvaluationQueue) Enqueue(ctx context.Context, job model.EvaluationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode evaluation job: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.EvaluationJobsQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue evaluation job: %w", err)
	}
	return nil
}
