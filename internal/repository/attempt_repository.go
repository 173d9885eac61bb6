package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository reads the archived attempt results and violations
// written by the archive workers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// ListResults returns one page of archived results for an assessment, newest
// first, along with the total count.
func (r *AttemptRepository) ListResults(ctx context.Context, assessmentID string, page, perPage int) ([]model.AttemptResult, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_results WHERE assessment_id = $1`, assessmentID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id::text, assessment_id, student_id, score, passed, attempt_status,
		        sections, violations, violation_count, finished_at
		 FROM attempt_results
		 WHERE assessment_id = $1
		 ORDER BY finished_at DESC
		 LIMIT $2 OFFSET $3`,
		assessmentID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]model.AttemptResult, 0, perPage)
	for rows.Next() {
		var res model.AttemptResult
		if err := rows.Scan(
			&res.AttemptID, &res.AssessmentID, &res.StudentID, &res.Score, &res.Passed, &res.AttemptStatus,
			&res.Sections, &res.Violations, &res.ViolationCount, &res.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

// ViolationCounts returns the number of archived violations per student.
func (r *AttemptRepository) ViolationCounts(ctx context.Context, assessmentID string) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM proctoring_violations
		 WHERE assessment_id = $1
		 GROUP BY student_id`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var n int64
		if err := rows.Scan(&sid, &n); err != nil {
			return nil, err
		}
		counts[sid] = n
	}
	return counts, rows.Err()
}
