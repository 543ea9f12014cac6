package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// EvaluationLockKey returns the lock key guarding a (test, student) evaluation run
func (r *CacheKeyStruct) EvaluationLockKey(testID, studentID string) string {
	return fmt.Sprintf("test:%s:student:%s:evaluation_lock", testID, studentID)
}

// EvaluationProgressChannel returns the Redis PubSub channel for a test's evaluation progress
func (r *CacheKeyStruct) EvaluationProgressChannel(testID string) string {
	return fmt.Sprintf("test:%s:evaluations", testID)
}

var CacheKey = NewCacheKeyStruct()
