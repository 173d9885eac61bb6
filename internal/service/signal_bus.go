package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SignalBus carries attempt outcomes out of the process: cross-window
// signals, the instructor monitor feed and the archive queues.
type SignalBus interface {
	PublishCompletion(ctx context.Context, result *model.AttemptResult) error
	PublishViolation(ctx context.Context, ev *model.ViolationEvent) error
}

// MonitorMessage is the envelope published on an assessment monitor channel.
type MonitorMessage struct {
	Type      string      `json:"type"`
	StudentID int         `json:"student_id"`
	Data      interface{} `json:"data"`
}

const (
	monitorTypeViolation = "violation"
)

// RedisSignalBus publishes over Redis Pub/Sub and queues archive rows with RPUSH.
type RedisSignalBus struct {
	rdb *redis.Client
}

func NewRedisSignalBus(rdb *redis.Client) *RedisSignalBus {
	return &RedisSignalBus{rdb: rdb}
}

// PublishCompletion sends the ASSESSMENT_COMPLETED signal to the student's
// channel and the assessment monitor, and queues the result for archiving.
func (b *RedisSignalBus) PublishCompletion(ctx context.Context, result *model.AttemptResult) error {
	signal, err := json.Marshal(model.NewCompletionSignal(result))
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	monitor, err := json.Marshal(MonitorMessage{
		Type:      string(model.SignalAssessmentCompleted),
		StudentID: result.StudentID,
		Data:      model.NewCompletionSignal(result).Payload,
	})
	if err != nil {
		return fmt.Errorf("encode monitor message: %w", err)
	}
	row, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.StudentSignalChannel(result.StudentID), signal)
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(result.AssessmentID), monitor)
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, row)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// PublishViolation forwards a violation to the monitor and queues it for archiving.
func (b *RedisSignalBus) PublishViolation(ctx context.Context, ev *model.ViolationEvent) error {
	monitor, err := json.Marshal(MonitorMessage{
		Type:      monitorTypeViolation,
		StudentID: ev.StudentID,
		Data:      ev,
	})
	if err != nil {
		return fmt.Errorf("encode monitor message: %w", err)
	}
	row, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode violation: %w", err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID), monitor)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, row)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish violation: %w", err)
	}
	return nil
}

// NopSignalBus drops everything. Used when Redis is not configured.
type NopSignalBus struct{}

func (NopSignalBus) PublishCompletion(context.Context, *model.AttemptResult) error { return nil }
func (NopSignalBus) PublishViolation(context.Context, *model.ViolationEvent) error { return nil }
