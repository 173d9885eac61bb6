package model

import "time"

// ViolationType is the canonical proctoring violation taxonomy.
type ViolationType string

const (
	ViolationFullscreenExit ViolationType = "fullscreen-exit"
	ViolationCopyPaste      ViolationType = "copy-paste"
	ViolationTabSwitch      ViolationType = "tab-switch"
	ViolationContextMenu    ViolationType = "context-menu"
	ViolationRestrictedKey  ViolationType = "restricted-key"
)

// Violation is the running count for one violation type.
type Violation struct {
	Type  ViolationType `json:"type"`
	Count int           `json:"count"`
}

// Warning is the blocking notice shown while the total is below the threshold.
type Warning struct {
	Type      ViolationType `json:"type"`
	Label     string        `json:"label"`
	Count     int           `json:"count"`
	Total     int           `json:"total"`
	Remaining int           `json:"remaining"`
}

// ViolationEvent is a single recorded violation, queued for the archive.
type ViolationEvent struct {
	AttemptID    string        `json:"attempt_id"`
	AssessmentID string        `json:"assessment_id"`
	StudentID    int           `json:"student_id"`
	Type         ViolationType `json:"type"`
	Label        string        `json:"label"`
	Total        int           `json:"total"`
	RecordedAt   time.Time     `json:"recorded_at"`
}
