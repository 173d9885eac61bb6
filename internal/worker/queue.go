package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
)

const (
	BatchSize      = 50
	BatchTimeout   = 2 * time.Second
	PollTimeout    = 1 * time.Second // Must be >= 1s to satisfy Redis
	RequeueBackoff = 2 * time.Second
	RedisBackoff   = 3 * time.Second
)

// ArchiveDB is the subset of *pgxpool.Pool the archive workers need.
type ArchiveDB interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// flushFunc persists a batch and returns the items that should be retried.
type flushFunc[T any] func(ctx context.Context, batch []*T) (failed []*T)

// batchQueue drains a Redis list into size or time bounded batches.
type batchQueue[T any] struct {
	rdb     *redis.Client
	queue   string
	log     zerolog.Logger
	metrics *metrics.Metrics
	flush   flushFunc[T]
	backoff time.Duration
}

func (q *batchQueue[T]) run(ctx context.Context) {
	buffer := make([]*T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			q.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			q.shutdown(buffer)
			return
		default:
		}

		// BLPop returns immediately when data exists.
		result, err := q.rdb.BLPop(ctx, PollTimeout, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Msg("Redis connection error, backing off")
			time.Sleep(RedisBackoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		if item, ok := q.decode(result[1]); ok {
			buffer = append(buffer, item)
		}
	}
}

// drain flushes whatever is queued right now, up to one batch, without blocking.
func (q *batchQueue[T]) drain(ctx context.Context) (int, error) {
	raw, err := q.rdb.LPopCount(ctx, q.queue, BatchSize).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	batch := make([]*T, 0, len(raw))
	for _, r := range raw {
		if item, ok := q.decode(r); ok {
			batch = append(batch, item)
		}
	}
	q.flushSafe(ctx, batch)
	return len(batch), nil
}

func (q *batchQueue[T]) decode(raw string) (*T, bool) {
	var item T
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		// Malformed JSON can never succeed. Log and discard.
		q.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
		return nil, false
	}
	return &item, true
}

func (q *batchQueue[T]) flushSafe(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}
	failed := q.flush(ctx, batch)
	outcome := "ok"
	if len(failed) > 0 {
		outcome = "requeued"
		q.requeue(ctx, failed)
	}
	if q.metrics != nil {
		q.metrics.QueueFlushes.WithLabelValues(q.queue, outcome).Inc()
	}
}

func (q *batchQueue[T]) requeue(ctx context.Context, items []*T) {
	pipe := q.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, q.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	q.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	if q.backoff > 0 {
		time.Sleep(q.backoff)
	}
}

func (q *batchQueue[T]) shutdown(buffer []*T) {
	q.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.flushSafe(ctx, buffer)
}
