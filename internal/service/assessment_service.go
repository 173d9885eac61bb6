package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/store"
)

var (
	ErrAttemptNotStarted = errors.New("attempt has not been started")
	ErrNoResult          = errors.New("assessment has no finished attempt")
)

const publishTimeout = 3 * time.Second

// AttemptOptions tunes the controllers created by AssessmentService.
type AttemptOptions struct {
	Clock            proctor.Clock
	Rand             proctor.RandSource
	Threshold        int
	CountdownSeconds int
	ReAttemptDelay   time.Duration
	// IdleTTL is how long an unwatched attempt survives without requests.
	IdleTTL time.Duration
}

// AssessmentService holds one live attempt controller per student and
// assessment, and connects it to the session store and the signal bus.
type AssessmentService struct {
	catalog  *Catalog
	sessions *store.SessionStore
	bus      SignalBus
	metrics  *metrics.Metrics
	opts     AttemptOptions
	log      zerolog.Logger

	mu   sync.Mutex
	live map[attemptKey]*liveAttempt
}

type attemptKey struct {
	studentID    int
	assessmentID string
}

type liveAttempt struct {
	key  attemptKey
	ctrl *proctor.Controller
	feed *proctor.Feed

	mu       sync.Mutex
	watchers map[int]func(proctor.Notice)
	nextID   int
	lastSeen time.Time
}

func NewAssessmentService(
	catalog *Catalog,
	sessions *store.SessionStore,
	bus SignalBus,
	m *metrics.Metrics,
	opts AttemptOptions,
	log zerolog.Logger,
) *AssessmentService {
	if opts.Clock == nil {
		opts.Clock = proctor.SystemClock{}
	}
	if bus == nil {
		bus = NopSignalBus{}
	}
	return &AssessmentService{
		catalog:  catalog,
		sessions: sessions,
		bus:      bus,
		metrics:  m,
		opts:     opts,
		log:      log.With().Str("component", "assessment_service").Logger(),
		live:     make(map[attemptKey]*liveAttempt),
	}
}

// List renders every catalog assessment for the student.
func (s *AssessmentService) List(ctx context.Context, studentID int) ([]model.AttemptView, error) {
	assessments := s.catalog.List()
	views := make([]model.AttemptView, 0, len(assessments))
	for _, a := range assessments {
		if la := s.lookup(studentID, a.ID); la != nil {
			views = append(views, la.ctrl.Snapshot())
			continue
		}

		result, err := s.sessions.LoadResult(ctx, studentID, a.ID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			views = append(views, viewFromResult(a, result))
			continue
		}

		sections, err := s.sessions.Restore(ctx, studentID, a.ID)
		if err != nil {
			return nil, err
		}
		attempt := NewAttempt(a, "", studentID)
		if !a.EndDate.IsZero() && s.opts.Clock.Now().After(a.EndDate) {
			attempt.State = model.StateExpired
		}
		views = append(views, model.AttemptView{
			Attempt:    attempt,
			Sections:   sections,
			Violations: []model.Violation{},
		})
	}
	return views, nil
}

// View renders one attempt. In results mode no controller is created and
// proctoring is never attached.
func (s *AssessmentService) View(ctx context.Context, studentID int, assessmentID string, resultsOnly bool) (model.AttemptView, error) {
	a, err := s.catalog.Get(assessmentID)
	if err != nil {
		return model.AttemptView{}, err
	}

	if la := s.lookup(studentID, assessmentID); la != nil {
		if resultsOnly && la.ctrl.Result() == nil {
			return model.AttemptView{}, ErrNoResult
		}
		la.touch(s.opts.Clock.Now())
		return la.ctrl.Snapshot(), nil
	}

	result, err := s.sessions.LoadResult(ctx, studentID, assessmentID)
	if err != nil {
		return model.AttemptView{}, err
	}
	if result != nil {
		return viewFromResult(a, result), nil
	}
	if resultsOnly {
		return model.AttemptView{}, ErrNoResult
	}

	la, err := s.acquire(ctx, studentID, assessmentID, true)
	if err != nil {
		return model.AttemptView{}, err
	}
	return la.ctrl.Snapshot(), nil
}

// Start begins the countdown of a scheduled attempt, or re-attaches
// proctoring to an open one.
func (s *AssessmentService) Start(ctx context.Context, studentID int, assessmentID string) (model.AttemptView, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, true)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := la.ctrl.Start(); err != nil {
		return la.ctrl.Snapshot(), err
	}
	return la.ctrl.Snapshot(), nil
}

// SubmitCoding stores the coding submission and marks the section complete.
func (s *AssessmentService) SubmitCoding(ctx context.Context, studentID int, assessmentID string, req model.SubmitCodingRequest) (model.Sections, error) {
	sub := model.CodingSubmission{
		Code:           req.Code,
		Output:         req.Output,
		SubmissionTime: s.opts.Clock.Now(),
		TestResults:    req.TestResults,
	}
	return s.completeSection(ctx, studentID, assessmentID, model.SectionCoding, func() error {
		if err := s.sessions.SaveCoding(ctx, studentID, assessmentID, sub); err != nil {
			return fmt.Errorf("save coding submission: %w", err)
		}
		return nil
	})
}

// SubmitAnswers stores MCQ or open-ended answers and marks the section complete.
func (s *AssessmentService) SubmitAnswers(ctx context.Context, studentID int, assessmentID string, section model.Section, req model.SubmitAnswersRequest) (model.Sections, error) {
	if section != model.SectionMCQ && section != model.SectionOpenEnded {
		return model.Sections{}, proctor.ErrUnknownSection
	}
	sub := model.AnswerSubmission{
		Answers:        req.Answers,
		SubmissionTime: s.opts.Clock.Now(),
	}
	return s.completeSection(ctx, studentID, assessmentID, section, func() error {
		if err := s.sessions.SaveAnswers(ctx, studentID, assessmentID, section, sub); err != nil {
			return fmt.Errorf("save answers: %w", err)
		}
		return nil
	})
}

// completeSection persists the section record before the controller marks
// the section done, so a failed save never leaves a completed section
// without its record.
func (s *AssessmentService) completeSection(ctx context.Context, studentID int, assessmentID string, section model.Section, save func() error) (model.Sections, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, false)
	if err != nil {
		return model.Sections{}, err
	}
	if err := la.ctrl.CheckSection(section); err != nil {
		return model.Sections{}, err
	}
	if err := save(); err != nil {
		return model.Sections{}, err
	}

	sections, err := la.ctrl.CompleteSection(section)
	if err != nil {
		return sections, err
	}
	if err := s.sessions.SaveCompletion(ctx, studentID, assessmentID, sections); err != nil {
		return sections, fmt.Errorf("save completion: %w", err)
	}
	return sections, nil
}

// SectionRecord returns the stored submission for a section, or nil.
func (s *AssessmentService) SectionRecord(ctx context.Context, studentID int, assessmentID string, section model.Section) (interface{}, error) {
	if _, err := s.catalog.Get(assessmentID); err != nil {
		return nil, err
	}
	switch section {
	case model.SectionCoding:
		sub, err := s.sessions.LoadCoding(ctx, studentID, assessmentID)
		if err != nil || sub == nil {
			return nil, err
		}
		return sub, nil
	case model.SectionMCQ, model.SectionOpenEnded:
		sub, err := s.sessions.LoadAnswers(ctx, studentID, assessmentID, section)
		if err != nil || sub == nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, proctor.ErrUnknownSection
}

// Submit completes the attempt manually.
func (s *AssessmentService) Submit(ctx context.Context, studentID int, assessmentID string) (*model.AttemptResult, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, false)
	if err != nil {
		return nil, err
	}
	return la.ctrl.Submit()
}

func (s *AssessmentService) Interrupt(ctx context.Context, studentID int, assessmentID, reason string) (model.AttemptView, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, false)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := la.ctrl.Interrupt(reason); err != nil {
		return model.AttemptView{}, err
	}
	return la.ctrl.Snapshot(), nil
}

// RequestReAttempt asks to resume an interrupted attempt. The controller is
// created on demand so externally interrupted fixtures can be resumed.
func (s *AssessmentService) RequestReAttempt(ctx context.Context, studentID int, assessmentID string) (model.AttemptView, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, true)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := la.ctrl.RequestReAttempt(); err != nil {
		return model.AttemptView{}, err
	}
	return la.ctrl.Snapshot(), nil
}

// Acknowledge dismisses the blocking violation warning.
func (s *AssessmentService) Acknowledge(ctx context.Context, studentID int, assessmentID string) (model.AttemptView, error) {
	la, err := s.acquire(ctx, studentID, assessmentID, false)
	if err != nil {
		return model.AttemptView{}, err
	}
	la.ctrl.Acknowledge()
	return la.ctrl.Snapshot(), nil
}

// SubmitAssignment stores a validated assignment submission link.
func (s *AssessmentService) SubmitAssignment(ctx context.Context, studentID int, assignmentID string, req model.AssignmentSubmissionRequest) (*store.AssignmentSubmission, error) {
	sub := store.AssignmentSubmission{
		Link:           req.Link,
		Note:           req.Note,
		SubmissionTime: s.opts.Clock.Now(),
	}
	if err := s.sessions.SaveAssignment(ctx, studentID, assignmentID, sub); err != nil {
		return nil, fmt.Errorf("save assignment: %w", err)
	}
	return &sub, nil
}

// Dispatch feeds a raw browser event to the attempt's proctoring monitor.
// Events arriving while the monitor is detached are ignored.
func (s *AssessmentService) Dispatch(studentID int, assessmentID string, e proctor.Event) error {
	la := s.lookup(studentID, assessmentID)
	if la == nil {
		return ErrAttemptNotStarted
	}
	la.touch(s.opts.Clock.Now())
	la.feed.Publish(e)
	return nil
}

// Watch registers fn for every notice of the attempt until cancel is called.
// fn must not call back into the service synchronously. A finished attempt
// with no live controller returns proctor.ErrAttemptClosed.
func (s *AssessmentService) Watch(ctx context.Context, studentID int, assessmentID string, fn func(proctor.Notice)) (cancel func(), err error) {
	la, err := s.acquire(ctx, studentID, assessmentID, true)
	if err != nil {
		return nil, err
	}

	la.mu.Lock()
	id := la.nextID
	la.nextID++
	la.watchers[id] = fn
	la.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			la.mu.Lock()
			delete(la.watchers, id)
			la.lastSeen = s.opts.Clock.Now()
			la.mu.Unlock()
		})
	}, nil
}

// Leave discards the live attempt when the student navigates away. Stored
// section records and results survive. Reports whether an attempt was live.
func (s *AssessmentService) Leave(studentID int, assessmentID string) bool {
	s.mu.Lock()
	key := attemptKey{studentID, assessmentID}
	la, ok := s.live[key]
	if ok {
		delete(s.live, key)
	}
	s.setActiveLocked()
	s.mu.Unlock()

	if ok {
		la.ctrl.Close()
		s.log.Info().
			Int("student_id", studentID).
			Str("assessment_id", assessmentID).
			Msg("Attempt discarded")
	}
	return ok
}

// EvictStale closes attempts that have no watchers and have been idle for
// longer than the configured TTL. Returns the number evicted.
func (s *AssessmentService) EvictStale() int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.opts.Clock.Now().Add(-s.opts.IdleTTL)

	var stale []*liveAttempt
	s.mu.Lock()
	for key, la := range s.live {
		if la.idleSince(cutoff) {
			stale = append(stale, la)
			delete(s.live, key)
		}
	}
	s.setActiveLocked()
	s.mu.Unlock()

	for _, la := range stale {
		la.ctrl.Close()
		s.log.Debug().
			Int("student_id", la.key.studentID).
			Str("assessment_id", la.key.assessmentID).
			Msg("Evicted idle attempt")
	}
	if s.metrics != nil && len(stale) > 0 {
		s.metrics.Evictions.Add(float64(len(stale)))
	}
	return len(stale)
}

// Active returns the number of live attempt controllers.
func (s *AssessmentService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown closes every live controller.
func (s *AssessmentService) Shutdown() {
	s.mu.Lock()
	all := make([]*liveAttempt, 0, len(s.live))
	for key, la := range s.live {
		all = append(all, la)
		delete(s.live, key)
	}
	s.setActiveLocked()
	s.mu.Unlock()

	for _, la := range all {
		la.ctrl.Close()
	}
}

func (s *AssessmentService) lookup(studentID int, assessmentID string) *liveAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[attemptKey{studentID, assessmentID}]
}

// acquire returns the live attempt, creating it when create is set. A stored
// result is terminal: no controller is ever created over it.
func (s *AssessmentService) acquire(ctx context.Context, studentID int, assessmentID string, create bool) (*liveAttempt, error) {
	now := s.opts.Clock.Now()
	if la := s.lookup(studentID, assessmentID); la != nil {
		la.touch(now)
		return la, nil
	}

	a, err := s.catalog.Get(assessmentID)
	if err != nil {
		return nil, err
	}
	result, err := s.sessions.LoadResult(ctx, studentID, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if result != nil {
		return nil, proctor.ErrAttemptClosed
	}
	if !create {
		return nil, ErrAttemptNotStarted
	}

	sections, err := s.sessions.Restore(ctx, studentID, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("restore sections: %w", err)
	}

	key := attemptKey{studentID, assessmentID}
	la := &liveAttempt{
		key:      key,
		feed:     proctor.NewFeed(),
		watchers: make(map[int]func(proctor.Notice)),
		lastSeen: now,
	}
	la.ctrl = proctor.NewController(NewAttempt(a, uuid.NewString(), studentID), proctor.Options{
		Clock:            s.opts.Clock,
		Rand:             s.opts.Rand,
		Source:           la.feed,
		Threshold:        s.opts.Threshold,
		CountdownSeconds: s.opts.CountdownSeconds,
		ReAttemptDelay:   s.opts.ReAttemptDelay,
		InitialSections:  sections,
		Logger:           s.log,
		Listener:         func(n proctor.Notice) { s.onNotice(la, n) },
	})

	s.mu.Lock()
	if existing, ok := s.live[key]; ok {
		s.mu.Unlock()
		la.ctrl.Close()
		existing.touch(now)
		return existing, nil
	}
	s.live[key] = la
	s.setActiveLocked()
	s.mu.Unlock()

	s.log.Info().
		Int("student_id", studentID).
		Str("assessment_id", assessmentID).
		Str("state", string(la.ctrl.State())).
		Msg("Attempt opened")
	return la, nil
}

// onNotice runs outside the controller lock, in notice order.
func (s *AssessmentService) onNotice(la *liveAttempt, n proctor.Notice) {
	switch n.Kind {
	case proctor.NoticeViolation:
		s.recordViolation(n.Violation)
	case proctor.NoticeCompleted:
		s.recordCompletion(n.Result)
	}

	la.mu.Lock()
	watchers := make([]func(proctor.Notice), 0, len(la.watchers))
	for _, fn := range la.watchers {
		watchers = append(watchers, fn)
	}
	la.mu.Unlock()

	for _, fn := range watchers {
		fn(n)
	}
}

func (s *AssessmentService) recordViolation(ev *model.ViolationEvent) {
	if ev == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.Violations.WithLabelValues(string(ev.Type)).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.bus.PublishViolation(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("attempt_id", ev.AttemptID).Msg("Failed to publish violation")
	}
}

func (s *AssessmentService) recordCompletion(r *model.AttemptResult) {
	if r == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.Completed.WithLabelValues(string(r.AttemptStatus), strconv.FormatBool(r.Passed)).Inc()
		if r.AttemptStatus == model.AttemptStatusAutoSubmitted {
			s.metrics.AutoSubmits.WithLabelValues(s.autoSubmitCause(r)).Inc()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.sessions.SaveResult(ctx, r.StudentID, r.AssessmentID, r); err != nil {
		s.log.Error().Err(err).Str("attempt_id", r.AttemptID).Msg("Failed to store attempt result")
	}
	if err := s.bus.PublishCompletion(ctx, r); err != nil {
		s.log.Error().Err(err).Str("attempt_id", r.AttemptID).Msg("Failed to publish completion signal")
	}
}

func (s *AssessmentService) autoSubmitCause(r *model.AttemptResult) string {
	threshold := s.opts.Threshold
	if threshold <= 0 {
		threshold = proctor.DefaultViolationThreshold
	}
	if r.ViolationCount >= threshold {
		return "violations"
	}
	return "duration"
}

func (s *AssessmentService) setActiveLocked() {
	if s.metrics != nil {
		s.metrics.ActiveAttempts.Set(float64(len(s.live)))
	}
}

func (la *liveAttempt) touch(now time.Time) {
	la.mu.Lock()
	la.lastSeen = now
	la.mu.Unlock()
}

func (la *liveAttempt) idleSince(cutoff time.Time) bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return len(la.watchers) == 0 && la.lastSeen.Before(cutoff)
}

func viewFromResult(a model.Assessment, r *model.AttemptResult) model.AttemptView {
	attempt := NewAttempt(a, r.AttemptID, r.StudentID)
	score := r.Score
	attempt.State = model.StateCompleted
	attempt.AttemptStatus = r.AttemptStatus
	attempt.Score = &score

	violations := r.Violations
	if violations == nil {
		violations = []model.Violation{}
	}
	return model.AttemptView{
		Attempt:        attempt,
		Sections:       r.Sections,
		Violations:     violations,
		ViolationCount: r.ViolationCount,
	}
}
