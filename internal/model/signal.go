package model

// SignalType names a cross-window message.
type SignalType string

const SignalAssessmentCompleted SignalType = "ASSESSMENT_COMPLETED"

// CompletionPayload is the body of an ASSESSMENT_COMPLETED signal.
type CompletionPayload struct {
	AssessmentID   string       `json:"assessmentId"`
	Score          int          `json:"score"`
	State          AttemptState `json:"state"`
	ViolationCount int          `json:"violationCount"`
}

// CompletionSignal is sent to the opener window and the instructor monitor.
type CompletionSignal struct {
	Type    SignalType        `json:"type"`
	Payload CompletionPayload `json:"payload"`
}

// NewCompletionSignal builds the signal for a finished attempt.
func NewCompletionSignal(r *AttemptResult) CompletionSignal {
	return CompletionSignal{
		Type: SignalAssessmentCompleted,
		Payload: CompletionPayload{
			AssessmentID:   r.AssessmentID,
			Score:          r.Score,
			State:          StateCompleted,
			ViolationCount: r.ViolationCount,
		},
	}
}
