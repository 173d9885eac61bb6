package model

import "time"

// Section is one gradable subdivision of an assessment.
type Section string

const (
	SectionCoding    Section = "coding"
	SectionMCQ       Section = "mcq"
	SectionOpenEnded Section = "openended"
)

// Valid reports whether s names a known section.
func (s Section) Valid() bool {
	switch s {
	case SectionCoding, SectionMCQ, SectionOpenEnded:
		return true
	}
	return false
}

// Sections is the persisted completion record.
type Sections struct {
	Coding    bool `json:"coding"`
	MCQ       bool `json:"mcq"`
	OpenEnded bool `json:"openended"`
}

// TestResults summarises a coding run.
type TestResults struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// CodingSubmission is the stored coding-challenge record.
type CodingSubmission struct {
	Code           string      `json:"code"`
	Output         string      `json:"output"`
	SubmissionTime time.Time   `json:"submissionTime"`
	TestResults    TestResults `json:"testResults"`
}

// AnswerSubmission is the stored MCQ or open-ended record.
type AnswerSubmission struct {
	Answers        map[string]string `json:"answers"`
	SubmissionTime time.Time         `json:"submissionTime"`
	Score          *int              `json:"score,omitempty"`
}

// SubmitCodingRequest is the payload for the coding section.
type SubmitCodingRequest struct {
	Code        string      `json:"code" binding:"required"`
	Output      string      `json:"output"`
	TestResults TestResults `json:"test_results"`
}

// SubmitAnswersRequest is the payload for the MCQ and open-ended sections.
type SubmitAnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required,min=1,dive,keys,required,endkeys,required"`
}

// AssignmentSubmissionRequest carries a link to externally hosted work.
type AssignmentSubmissionRequest struct {
	Link string `json:"link" binding:"required,max=2048,submission_link"`
	Note string `json:"note" binding:"omitempty,max=500"`
}

// InterruptRequest optionally names the reason for an interruption.
type InterruptRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

// Mark sets the flag for s. Unknown sections are ignored.
func (c *Sections) Mark(s Section) {
	switch s {
	case SectionCoding:
		c.Coding = true
	case SectionMCQ:
		c.MCQ = true
	case SectionOpenEnded:
		c.OpenEnded = true
	}
}

// Has reports whether s is complete.
func (c Sections) Has(s Section) bool {
	switch s {
	case SectionCoding:
		return c.Coding
	case SectionMCQ:
		return c.MCQ
	case SectionOpenEnded:
		return c.OpenEnded
	}
	return false
}

// Count returns how many sections are complete.
func (c Sections) Count() int {
	n := 0
	for _, done := range []bool{c.Coding, c.MCQ, c.OpenEnded} {
		if done {
			n++
		}
	}
	return n
}
