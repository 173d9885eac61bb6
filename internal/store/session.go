package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssignmentSubmission is the stored record of a link submission.
type AssignmentSubmission struct {
	Link           string    `json:"link"`
	Note           string    `json:"note,omitempty"`
	SubmissionTime time.Time `json:"submissionTime"`
}

// SessionStore reads and writes the JSON records of one student's session.
// Corrupt records are treated as absent and removed.
type SessionStore struct {
	kv  KV
	log zerolog.Logger
}

func NewSessionStore(kv KV, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		kv:  kv,
		log: log.With().Str("component", "session_store").Logger(),
	}
}

// LoadCompletion returns the stored completion record, or the zero value.
func (s *SessionStore) LoadCompletion(ctx context.Context, studentID int, assessmentID string) (model.Sections, error) {
	var sections model.Sections
	found, err := s.load(ctx, config.CacheKey.CompletionKey(studentID, assessmentID), &sections)
	if err != nil || !found {
		return model.Sections{}, err
	}
	return sections, nil
}

func (s *SessionStore) SaveCompletion(ctx context.Context, studentID int, assessmentID string, sections model.Sections) error {
	return s.save(ctx, config.CacheKey.CompletionKey(studentID, assessmentID), sections)
}

// Restore rebuilds the completion state from the completion record and the
// presence of stored section submissions.
func (s *SessionStore) Restore(ctx context.Context, studentID int, assessmentID string) (model.Sections, error) {
	sections, err := s.LoadCompletion(ctx, studentID, assessmentID)
	if err != nil {
		return model.Sections{}, err
	}

	coding, err := s.LoadCoding(ctx, studentID, assessmentID)
	if err != nil {
		return model.Sections{}, err
	}
	if coding != nil {
		sections.Mark(model.SectionCoding)
	}

	for _, sec := range []model.Section{model.SectionMCQ, model.SectionOpenEnded} {
		answers, err := s.LoadAnswers(ctx, studentID, assessmentID, sec)
		if err != nil {
			return model.Sections{}, err
		}
		if answers != nil {
			sections.Mark(sec)
		}
	}
	return sections, nil
}

func (s *SessionStore) SaveCoding(ctx context.Context, studentID int, assessmentID string, sub model.CodingSubmission) error {
	return s.save(ctx, config.CacheKey.SectionKey(studentID, assessmentID, string(model.SectionCoding)), sub)
}

// LoadCoding returns nil when no coding submission is stored.
func (s *SessionStore) LoadCoding(ctx context.Context, studentID int, assessmentID string) (*model.CodingSubmission, error) {
	var sub model.CodingSubmission
	found, err := s.load(ctx, config.CacheKey.SectionKey(studentID, assessmentID, string(model.SectionCoding)), &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (s *SessionStore) SaveAnswers(ctx context.Context, studentID int, assessmentID string, section model.Section, sub model.AnswerSubmission) error {
	if section != model.SectionMCQ && section != model.SectionOpenEnded {
		return fmt.Errorf("save answers: section %q does not hold answers", section)
	}
	return s.save(ctx, config.CacheKey.SectionKey(studentID, assessmentID, string(section)), sub)
}

// LoadAnswers returns nil when no answers are stored for section.
func (s *SessionStore) LoadAnswers(ctx context.Context, studentID int, assessmentID string, section model.Section) (*model.AnswerSubmission, error) {
	var sub model.AnswerSubmission
	found, err := s.load(ctx, config.CacheKey.SectionKey(studentID, assessmentID, string(section)), &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (s *SessionStore) SaveResult(ctx context.Context, studentID int, assessmentID string, r *model.AttemptResult) error {
	return s.save(ctx, config.CacheKey.ResultKey(studentID, assessmentID), r)
}

// LoadResult returns nil while the assessment has no finished attempt.
func (s *SessionStore) LoadResult(ctx context.Context, studentID int, assessmentID string) (*model.AttemptResult, error) {
	var r model.AttemptResult
	found, err := s.load(ctx, config.CacheKey.ResultKey(studentID, assessmentID), &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *SessionStore) SaveAssignment(ctx context.Context, studentID int, assignmentID string, sub AssignmentSubmission) error {
	return s.save(ctx, config.CacheKey.AssignmentKey(studentID, assignmentID), sub)
}

func (s *SessionStore) LoadAssignment(ctx context.Context, studentID int, assignmentID string) (*AssignmentSubmission, error) {
	var sub AssignmentSubmission
	found, err := s.load(ctx, config.CacheKey.AssignmentKey(studentID, assignmentID), &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (s *SessionStore) save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// load decodes key into dst. A missing or corrupt record reports found=false.
func (s *SessionStore) load(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt session record")
		if rmErr := s.kv.Remove(ctx, key); rmErr != nil {
			s.log.Error().Err(rmErr).Str("key", key).Msg("Failed to remove corrupt session record")
		}
		return false, nil
	}
	return true, nil
}
