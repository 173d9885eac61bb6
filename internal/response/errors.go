package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorAccessOnly ErrCode = "INSTRUCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownSection ErrCode = "UNKNOWN_SECTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrAttemptNotStarted  ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAttemptNotOpen     ErrCode = "ATTEMPT_NOT_OPEN"
	ErrAttemptClosed      ErrCode = "ATTEMPT_CLOSED"
	ErrAttemptExpired     ErrCode = "ATTEMPT_EXPIRED"
	ErrSectionsIncomplete ErrCode = "SECTIONS_INCOMPLETE"
	ErrNotInterrupted     ErrCode = "ATTEMPT_NOT_INTERRUPTED"
	ErrReAttemptPending   ErrCode = "REATTEMPT_PENDING"
	ErrNoResult           ErrCode = "NO_RESULT"
	ErrWarningPending     ErrCode = "WARNING_PENDING"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal    ErrCode = "INTERNAL_ERROR"
	ErrUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

var messages = map[ErrCode]string{
	ErrTokenRequired: "Authentication token is required.",
	ErrTokenInvalid:  "Authentication token is invalid or expired.",

	ErrStudentAccessOnly:    "This resource is restricted to students.",
	ErrInstructorAccessOnly: "This resource is restricted to instructors.",

	ErrValidation:     "Validation failed. Please check your input.",
	ErrInvalidPayload: "Invalid request payload.",
	ErrUnknownSection: "Unknown assessment section.",

	ErrNotFound: "Resource not found.",

	ErrAttemptNotStarted:  "Start the assessment before submitting to it.",
	ErrAttemptNotOpen:     "The assessment is not open.",
	ErrAttemptClosed:      "This assessment has already been completed.",
	ErrAttemptExpired:     "The assessment window has closed.",
	ErrSectionsIncomplete: "Complete the coding, multiple choice and open-ended sections before submitting.",
	ErrNotInterrupted:     "Only an interrupted assessment can be re-attempted.",
	ErrReAttemptPending:   "A re-attempt request is already pending.",
	ErrNoResult:           "No results are available for this assessment yet.",
	ErrWarningPending:     "Acknowledge the proctoring warning before continuing.",

	ErrRateLimitExceeded: "Too many requests. Please try again later.",

	ErrInternal:    "An internal server error occurred.",
	ErrUnavailable: "The service is temporarily unavailable.",
}

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "An unexpected error occurred."
}
