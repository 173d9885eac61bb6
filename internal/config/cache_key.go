package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CompletionKey returns the key of a student's section completion record for an assessment
func (r *CacheKeyStruct) CompletionKey(studentID int, assessmentID string) string {
	return fmt.Sprintf("student:%d:assessment:%s:completion", studentID, assessmentID)
}

// SectionKey returns the key of a stored section submission (coding, mcq, openended)
func (r *CacheKeyStruct) SectionKey(studentID int, assessmentID, section string) string {
	return fmt.Sprintf("student:%d:assessment:%s:%s", studentID, assessmentID, section)
}

// ResultKey returns the key of a finished attempt's result, used by the results view
func (r *CacheKeyStruct) ResultKey(studentID int, assessmentID string) string {
	return fmt.Sprintf("student:%d:assessment:%s:result", studentID, assessmentID)
}

// AssignmentKey returns the key of a student's assignment submission link
func (r *CacheKeyStruct) AssignmentKey(studentID int, assignmentID string) string {
	return fmt.Sprintf("student:%d:assignment:%s:submission", studentID, assignmentID)
}

// StudentSignalChannel returns the Redis PubSub channel the student's opener window listens on
func (r *CacheKeyStruct) StudentSignalChannel(studentID int) string {
	return fmt.Sprintf("student:%d:signals", studentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
