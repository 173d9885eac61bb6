package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var violationColumns = []string{
	"attempt_id", "assessment_id", "student_id", "violation_type", "label", "total", "recorded_at",
}

// ViolationWorker archives proctoring violations into proctoring_violations.
type ViolationWorker struct {
	db  ArchiveDB
	log zerolog.Logger
	q   *batchQueue[model.ViolationEvent]
}

func NewViolationWorker(db ArchiveDB, rdb *redis.Client, m *metrics.Metrics, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{
		db:  db,
		log: log.With().Str("component", "violation_worker").Logger(),
	}
	w.q = &batchQueue[model.ViolationEvent]{
		rdb:     rdb,
		queue:   config.WorkerKey.PersistViolationsQueue,
		log:     w.log,
		metrics: m,
		flush:   w.flush,
		backoff: RequeueBackoff,
	}
	return w
}

// Start blocks until ctx is cancelled.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	w.q.run(ctx)
}

// Drain archives what is currently queued, up to one batch.
func (w *ViolationWorker) Drain(ctx context.Context) (int, error) {
	return w.q.drain(ctx)
}

// flush tries a bulk COPY, then row-by-row inserts. Rows that still fail are retried.
func (w *ViolationWorker) flush(ctx context.Context, batch []*model.ViolationEvent) []*model.ViolationEvent {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		return w.fallbackInsert(ctx, batch)
	}
	return nil
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, v := range batch {
		attemptID, err := uuid.Parse(v.AttemptID)
		if err != nil {
			// The fallback drops the bad row individually.
			return err
		}
		rows = append(rows, []interface{}{
			attemptID, v.AssessmentID, v.StudentID, string(v.Type), v.Label, v.Total, v.RecordedAt,
		})
	}

	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"proctoring_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationEvent) []*model.ViolationEvent {
	var failed []*model.ViolationEvent
	for _, v := range batch {
		attemptID, err := uuid.Parse(v.AttemptID)
		if err != nil {
			w.log.Error().Str("attempt_id", v.AttemptID).Msg("Dropping violation with invalid attempt id")
			continue
		}

		_, err = w.db.Exec(ctx,
			`INSERT INTO proctoring_violations (attempt_id, assessment_id, student_id, violation_type, label, total, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			attemptID, v.AssessmentID, v.StudentID, string(v.Type), v.Label, v.Total, v.RecordedAt,
		)
		if err != nil {
			w.log.Error().Err(err).Int("student_id", v.StudentID).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	return failed
}
