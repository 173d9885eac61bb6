package service

import (
	"errors"
	"sort"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var ErrAssessmentNotFound = errors.New("assessment not found")

// Catalog is the fixed set of demo assessments. Windows are relative to the
// time the catalog was built so the fixtures stay attemptable.
type Catalog struct {
	byID  map[string]model.Assessment
	order []string
}

// NewCatalog builds the demo fixtures around now.
func NewCatalog(now time.Time) *Catalog {
	day := 24 * time.Hour
	fixtures := []model.Assessment{
		{
			ID:         "high-score-assessment",
			Title:      "Data Structures Midterm",
			StartDate:  now.Add(-day),
			EndDate:    now.Add(7 * day),
			Duration:   90 * time.Minute,
			TotalMarks: 100,
		},
		{
			ID:         "low-score-assessment",
			Title:      "Algorithms Quiz",
			StartDate:  now.Add(-day),
			EndDate:    now.Add(7 * day),
			Duration:   45 * time.Minute,
			TotalMarks: 100,
		},
		{
			ID:         "scheduled-assessment",
			Title:      "Operating Systems Final",
			StartDate:  now.Add(-time.Hour),
			EndDate:    now.Add(3 * day),
			Duration:   120 * time.Minute,
			TotalMarks: 100,
		},
		{
			ID:         "practice-assessment",
			Title:      "Web Development Practice Test",
			StartDate:  now.Add(-day),
			EndDate:    now.Add(14 * day),
			Duration:   60 * time.Minute,
			TotalMarks: 100,
		},
		{
			ID:           "interrupted-assessment",
			Title:        "Database Systems Lab Exam",
			StartDate:    now.Add(-2 * time.Hour),
			EndDate:      now.Add(2 * day),
			Duration:     60 * time.Minute,
			TotalMarks:   100,
			InitialState: model.StateInterrupted,
		},
		{
			ID:         "upcoming-assessment",
			Title:      "Computer Networks Entrance Test",
			StartDate:  now.Add(2 * time.Minute),
			EndDate:    now.Add(5 * day),
			Duration:   30 * time.Minute,
			TotalMarks: 50,
		},
		{
			ID:         "expired-assessment",
			Title:      "Discrete Mathematics Retake",
			StartDate:  now.Add(-10 * day),
			EndDate:    now.Add(-3 * day),
			Duration:   60 * time.Minute,
			TotalMarks: 100,
		},
	}

	c := &Catalog{byID: make(map[string]model.Assessment, len(fixtures))}
	for _, a := range fixtures {
		if a.PassScore == 0 {
			a.PassScore = model.PassScore
		}
		if a.InitialState == "" {
			a.InitialState = model.StateScheduled
		}
		c.byID[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	return c
}

func (c *Catalog) Get(id string) (model.Assessment, error) {
	a, ok := c.byID[id]
	if !ok {
		return model.Assessment{}, ErrAssessmentNotFound
	}
	return a, nil
}

// List returns the assessments ordered by start date, earliest first.
func (c *Catalog) List() []model.Assessment {
	out := make([]model.Assessment, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

// NewAttempt derives a fresh attempt of a for the student.
func NewAttempt(a model.Assessment, attemptID string, studentID int) model.Attempt {
	return model.Attempt{
		ID:            attemptID,
		AssessmentID:  a.ID,
		StudentID:     studentID,
		Title:         a.Title,
		StartDate:     a.StartDate,
		EndDate:       a.EndDate,
		Duration:      a.Duration,
		TotalMarks:    a.TotalMarks,
		PassScore:     a.PassScore,
		State:         a.InitialState,
		AttemptStatus: model.AttemptStatusNotAttempted,
	}
}
