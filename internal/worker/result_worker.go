package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultWorker archives completed attempts into attempt_results. Inserts are
// idempotent on attempt_id so requeued rows never duplicate.
type ResultWorker struct {
	db  ArchiveDB
	log zerolog.Logger
	q   *batchQueue[model.AttemptResult]
}

func NewResultWorker(db ArchiveDB, rdb *redis.Client, m *metrics.Metrics, log zerolog.Logger) *ResultWorker {
	w := &ResultWorker{
		db:  db,
		log: log.With().Str("component", "result_worker").Logger(),
	}
	w.q = &batchQueue[model.AttemptResult]{
		rdb:     rdb,
		queue:   config.WorkerKey.PersistResultsQueue,
		log:     w.log,
		metrics: m,
		flush:   w.flush,
		backoff: RequeueBackoff,
	}
	return w
}

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")
	w.q.run(ctx)
}

func (w *ResultWorker) Drain(ctx context.Context) (int, error) {
	return w.q.drain(ctx)
}

func (w *ResultWorker) flush(ctx context.Context, batch []*model.AttemptResult) []*model.AttemptResult {
	if err := w.bulkUpsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk result upsert failed, using fallback")

		var failed []*model.AttemptResult
		for _, r := range batch {
			if err := w.persistSingle(ctx, r); err != nil {
				if _, parseErr := uuid.Parse(r.AttemptID); parseErr != nil {
					w.log.Error().Str("attempt_id", r.AttemptID).Msg("Dropping result with invalid attempt id")
					continue
				}
				w.log.Error().Err(err).Str("attempt_id", r.AttemptID).Msg("persistSingle failed, requeueing")
				failed = append(failed, r)
			}
		}
		return failed
	}
	return nil
}

const upsertResultsSQL = `
	INSERT INTO attempt_results (
		attempt_id, assessment_id, student_id, score, passed, attempt_status,
		sections, violations, violation_count, finished_at
	)
	SELECT u.attempt_id, u.assessment_id, u.student_id, u.score, u.passed, u.attempt_status,
	       u.sections, u.violations, u.violation_count, u.finished_at
	FROM UNNEST(
		$1::uuid[],
		$2::text[],
		$3::int[],
		$4::int[],
		$5::bool[],
		$6::text[],
		$7::jsonb[],
		$8::jsonb[],
		$9::int[],
		$10::timestamptz[]
	) AS u (attempt_id, assessment_id, student_id, score, passed, attempt_status,
	        sections, violations, violation_count, finished_at)
	ON CONFLICT (attempt_id) DO NOTHING
`

func (w *ResultWorker) bulkUpsert(ctx context.Context, batch []*model.AttemptResult) error {
	n := len(batch)
	attemptIDs := make([]uuid.UUID, 0, n)
	assessmentIDs := make([]string, 0, n)
	students := make([]int, 0, n)
	scores := make([]int, 0, n)
	passed := make([]bool, 0, n)
	statuses := make([]string, 0, n)
	sections := make([]string, 0, n)
	violations := make([]string, 0, n)
	counts := make([]int, 0, n)
	finishedAts := make([]time.Time, 0, n)

	for _, r := range batch {
		id, err := uuid.Parse(r.AttemptID)
		if err != nil {
			return err
		}
		sec, vio, err := encodeResultJSON(r)
		if err != nil {
			return err
		}
		attemptIDs = append(attemptIDs, id)
		assessmentIDs = append(assessmentIDs, r.AssessmentID)
		students = append(students, r.StudentID)
		scores = append(scores, r.Score)
		passed = append(passed, r.Passed)
		statuses = append(statuses, string(r.AttemptStatus))
		sections = append(sections, sec)
		violations = append(violations, vio)
		counts = append(counts, r.ViolationCount)
		finishedAts = append(finishedAts, r.FinishedAt)
	}

	_, err := w.db.Exec(ctx, upsertResultsSQL,
		attemptIDs, assessmentIDs, students, scores, passed, statuses,
		sections, violations, counts, finishedAts,
	)
	return err
}

func (w *ResultWorker) persistSingle(ctx context.Context, r *model.AttemptResult) error {
	id, err := uuid.Parse(r.AttemptID)
	if err != nil {
		return err
	}
	sec, vio, err := encodeResultJSON(r)
	if err != nil {
		return err
	}

	_, err = w.db.Exec(ctx,
		`INSERT INTO attempt_results (
			attempt_id, assessment_id, student_id, score, passed, attempt_status,
			sections, violations, violation_count, finished_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		id, r.AssessmentID, r.StudentID, r.Score, r.Passed, string(r.AttemptStatus),
		sec, vio, r.ViolationCount, r.FinishedAt,
	)
	return err
}

func encodeResultJSON(r *model.AttemptResult) (sections, violations string, err error) {
	s, err := json.Marshal(r.Sections)
	if err != nil {
		return "", "", err
	}
	violationList := r.Violations
	if violationList == nil {
		violationList = []model.Violation{}
	}
	v, err := json.Marshal(violationList)
	if err != nil {
		return "", "", err
	}
	return string(s), string(v), nil
}
