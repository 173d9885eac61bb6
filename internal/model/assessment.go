package model

import "time"

// AttemptState enumerates the lifecycle states of an assessment attempt.
type AttemptState string

const (
	StateScheduled          AttemptState = "scheduled"
	StateOpen               AttemptState = "open"
	StateInterrupted        AttemptState = "interrupted"
	StateReAttemptRequested AttemptState = "reAttemptRequested"
	StateCompleted          AttemptState = "completed"
	StateExpired            AttemptState = "expired"
)

// AttemptStatus describes how the student got to the current state.
type AttemptStatus string

const (
	AttemptStatusNotAttempted  AttemptStatus = "not-attempted"
	AttemptStatusInProgress    AttemptStatus = "in-progress"
	AttemptStatusSubmitted     AttemptStatus = "submitted"
	AttemptStatusAutoSubmitted AttemptStatus = "auto-submitted"
)

// PassScore is the fixed pass threshold for every assessment.
const PassScore = 60

// Assessment is a catalog entry a student can attempt.
type Assessment struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	StartDate  time.Time     `json:"start_date"`
	EndDate    time.Time     `json:"end_date"`
	Duration   time.Duration `json:"duration"`
	TotalMarks int           `json:"total_marks"`
	PassScore  int           `json:"pass_score"`
	// InitialState seeds demo fixtures (e.g. an already interrupted attempt).
	InitialState AttemptState `json:"-"`
}

// Attempt is one student's engagement with a single assessment.
type Attempt struct {
	ID            string        `json:"id"`
	AssessmentID  string        `json:"assessment_id"`
	StudentID     int           `json:"student_id"`
	Title         string        `json:"title"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	Duration      time.Duration `json:"duration"`
	TotalMarks    int           `json:"total_marks"`
	PassScore     int           `json:"pass_score"`
	State         AttemptState  `json:"state"`
	Score         *int          `json:"score,omitempty"`
	AttemptStatus AttemptStatus `json:"attempt_status"`
}

// AttemptResult is produced exactly once when an attempt completes.
type AttemptResult struct {
	AttemptID      string        `json:"attempt_id"`
	AssessmentID   string        `json:"assessment_id"`
	StudentID      int           `json:"student_id"`
	Score          int           `json:"score"`
	Passed         bool          `json:"passed"`
	AttemptStatus  AttemptStatus `json:"attempt_status"`
	Sections       Sections      `json:"sections"`
	Violations     []Violation   `json:"violations"`
	ViolationCount int           `json:"violation_count"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// AttemptView is the render-time snapshot of an attempt.
type AttemptView struct {
	Attempt
	Sections       Sections    `json:"sections"`
	CanSubmit      bool        `json:"can_submit"`
	Countdown      int         `json:"countdown"`
	Violations     []Violation `json:"violations"`
	ViolationCount int         `json:"violation_count"`
	PendingWarning *Warning    `json:"pending_warning,omitempty"`
	RemainingTime  float64     `json:"remaining_time"`
}
