package proctor

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Controller errors.
var (
	ErrAttemptClosed      = errors.New("attempt is already completed")
	ErrAttemptExpired     = errors.New("attempt window has expired")
	ErrAttemptNotOpen     = errors.New("attempt is not open")
	ErrNotInterrupted     = errors.New("attempt is not interrupted")
	ErrReAttemptPending   = errors.New("re-attempt request is already pending")
	ErrSectionsIncomplete = errors.New("all sections must be completed before submitting")
	ErrUnknownSection     = errors.New("unknown section")
	ErrWarningPending     = errors.New("violation warning must be acknowledged first")
)

const (
	DefaultCountdownSeconds = 3
	DefaultReAttemptDelay   = 3 * time.Second
	tickInterval            = time.Second
)

// NoticeKind classifies controller notifications.
type NoticeKind string

const (
	NoticeCountdown NoticeKind = "countdown"
	NoticeState     NoticeKind = "state"
	NoticeViolation NoticeKind = "violation"
	NoticeWarning   NoticeKind = "warning"
	NoticeCompleted NoticeKind = "completed"
)

// Notice is emitted on every observable change of an attempt.
type Notice struct {
	Kind      NoticeKind            `json:"kind"`
	AttemptID string                `json:"attempt_id"`
	State     model.AttemptState    `json:"state"`
	Countdown int                   `json:"countdown,omitempty"`
	Warning   *model.Warning        `json:"warning,omitempty"`
	Violation *model.ViolationEvent `json:"violation,omitempty"`
	Result    *model.AttemptResult  `json:"result,omitempty"`
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	Clock            Clock
	Rand             RandSource
	Source           EventSource
	Threshold        int
	// CountdownSeconds 0 means the default; < 0 opens a scheduled attempt
	// immediately.
	CountdownSeconds int
	ReAttemptDelay   time.Duration
	InitialSections  model.Sections
	Logger           zerolog.Logger
	// Listener receives notices in order. It must not call back into the
	// Controller synchronously.
	Listener func(Notice)
}

// Controller owns one attempt's state machine, timers and proctoring.
type Controller struct {
	mu  sync.Mutex
	dmu sync.Mutex // orders notice delivery

	attempt    model.Attempt
	clock      Clock
	listener   func(Notice)
	log        zerolog.Logger
	sections   *Composer
	violations *Accumulator
	scorer     *Scorer
	monitor    *Monitor

	countdownSeconds int
	reAttemptDelay   time.Duration

	countdown     int
	dateCountdown bool
	openedAt      time.Time
	warning       *model.Warning
	result        *model.AttemptResult
	reAttemptSeq  int
	closed        bool

	stopCountdown func()
	stopDuration  func()
	stopReAttempt func()
}

// NewController creates a controller for attempt. It does not start timers.
func NewController(attempt model.Attempt, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.CountdownSeconds == 0 {
		opts.CountdownSeconds = DefaultCountdownSeconds
	}
	if opts.ReAttemptDelay <= 0 {
		opts.ReAttemptDelay = DefaultReAttemptDelay
	}
	if attempt.State == "" {
		attempt.State = model.StateScheduled
	}
	if attempt.AttemptStatus == "" {
		attempt.AttemptStatus = model.AttemptStatusNotAttempted
	}
	if attempt.PassScore == 0 {
		attempt.PassScore = model.PassScore
	}

	c := &Controller{
		attempt:          attempt,
		clock:            opts.Clock,
		listener:         opts.Listener,
		log:              opts.Logger.With().Str("component", "attempt_controller").Str("attempt_id", attempt.ID).Logger(),
		sections:         NewComposer(opts.InitialSections),
		violations:       NewAccumulator(opts.Threshold),
		scorer:           NewScorer(opts.Rand),
		countdownSeconds: opts.CountdownSeconds,
		reAttemptDelay:   opts.ReAttemptDelay,
	}
	c.monitor = NewMonitor(opts.Source, c.recordViolation, opts.Logger)
	return c
}

// Start moves the attempt towards "open". A scheduled attempt begins its
// countdown; an open attempt (re)acquires its proctoring listeners.
func (c *Controller) Start() error {
	c.mu.Lock()
	var notices []Notice
	err := c.startLocked(&notices)
	c.unlockAndDispatch(notices)
	return err
}

func (c *Controller) startLocked(notices *[]Notice) error {
	if c.closed || c.attempt.State == model.StateCompleted {
		return ErrAttemptClosed
	}
	if c.expireLocked(notices) {
		return ErrAttemptExpired
	}

	switch c.attempt.State {
	case model.StateScheduled:
		if c.stopCountdown != nil {
			return nil
		}
		now := c.clock.Now()
		if c.attempt.StartDate.After(now) {
			c.dateCountdown = true
			c.countdown = secondsUntil(now, c.attempt.StartDate)
		} else {
			c.countdown = c.countdownSeconds
		}
		if c.countdown <= 0 {
			c.openLocked(notices)
			return nil
		}
		*notices = append(*notices, c.notice(NoticeCountdown))
		c.stopCountdown = c.clock.Every(tickInterval, c.tick)
	case model.StateOpen:
		if c.openedAt.IsZero() {
			c.openLocked(notices)
			return nil
		}
		c.monitor.Attach()
	}
	return nil
}

func (c *Controller) tick() {
	c.mu.Lock()
	var notices []Notice
	if c.attempt.State == model.StateScheduled && !c.closed {
		if c.dateCountdown {
			c.countdown = secondsUntil(c.clock.Now(), c.attempt.StartDate)
		} else {
			c.countdown--
		}
		if c.countdown <= 0 {
			c.countdown = 0
			c.stopCountdownLocked()
			c.openLocked(&notices)
		} else {
			notices = append(notices, c.notice(NoticeCountdown))
		}
	}
	c.unlockAndDispatch(notices)
}

func (c *Controller) openLocked(notices *[]Notice) {
	c.attempt.State = model.StateOpen
	c.attempt.AttemptStatus = model.AttemptStatusInProgress
	c.openedAt = c.clock.Now()
	c.monitor.Attach()

	if c.attempt.Duration > 0 {
		c.stopDurationLocked()
		c.stopDuration = c.clock.AfterFunc(c.attempt.Duration, c.durationElapsed)
	}
	c.log.Info().Msg("Attempt opened")
	*notices = append(*notices, c.notice(NoticeState))
}

func (c *Controller) durationElapsed() {
	c.mu.Lock()
	var notices []Notice
	if c.attempt.State == model.StateOpen && !c.closed {
		c.log.Info().Msg("Attempt duration elapsed, auto-submitting")
		c.completeLocked(model.AttemptStatusAutoSubmitted, &notices)
	}
	c.unlockAndDispatch(notices)
}

func (c *Controller) recordViolation(vt model.ViolationType, label string) {
	c.mu.Lock()
	var notices []Notice
	if c.attempt.State != model.StateOpen || c.result != nil || c.closed {
		c.unlockAndDispatch(nil)
		return
	}

	out := c.violations.Record(vt)
	notices = append(notices, Notice{
		Kind:      NoticeViolation,
		AttemptID: c.attempt.ID,
		State:     c.attempt.State,
		Violation: &model.ViolationEvent{
			AttemptID:    c.attempt.ID,
			AssessmentID: c.attempt.AssessmentID,
			StudentID:    c.attempt.StudentID,
			Type:         vt,
			Label:        label,
			Total:        out.Total,
			RecordedAt:   c.clock.Now(),
		},
	})

	c.log.Warn().
		Str("type", string(vt)).
		Int("count", out.Count).
		Int("total", out.Total).
		Msg("Proctoring violation recorded")

	if out.AutoSubmit {
		c.completeLocked(model.AttemptStatusAutoSubmitted, &notices)
	} else {
		c.warning = &model.Warning{
			Type:      vt,
			Label:     label,
			Count:     out.Count,
			Total:     out.Total,
			Remaining: c.violations.Remaining(),
		}
		w := *c.warning
		n := c.notice(NoticeWarning)
		n.Warning = &w
		notices = append(notices, n)
	}
	c.unlockAndDispatch(notices)
}

// completeLocked finalises the attempt once; later calls are no-ops.
func (c *Controller) completeLocked(status model.AttemptStatus, notices *[]Notice) {
	if c.result != nil {
		return
	}
	c.releaseLocked()

	sections := c.sections.Sections()
	score := c.scorer.Score(c.attempt.AssessmentID, sections)
	c.attempt.State = model.StateCompleted
	c.attempt.AttemptStatus = status
	c.attempt.Score = &score
	c.warning = nil

	c.result = &model.AttemptResult{
		AttemptID:      c.attempt.ID,
		AssessmentID:   c.attempt.AssessmentID,
		StudentID:      c.attempt.StudentID,
		Score:          score,
		Passed:         Passed(score),
		AttemptStatus:  status,
		Sections:       sections,
		Violations:     c.violations.Violations(),
		ViolationCount: c.violations.Total(),
		FinishedAt:     c.clock.Now(),
	}

	c.log.Info().
		Int("score", score).
		Str("status", string(status)).
		Int("violations", c.result.ViolationCount).
		Msg("Attempt completed")

	result := *c.result
	*notices = append(*notices, c.notice(NoticeState))
	n := c.notice(NoticeCompleted)
	n.Result = &result
	*notices = append(*notices, n)
}

// CompleteSection records a submitted section and returns the new completion state.
func (c *Controller) CompleteSection(s model.Section) (model.Sections, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sectionErrLocked(s); err != nil {
		return c.sections.Sections(), err
	}
	c.sections.Complete(s)
	return c.sections.Sections(), nil
}

// CheckSection returns the error CompleteSection would return for s,
// without marking anything.
func (c *Controller) CheckSection(s model.Section) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sectionErrLocked(s)
}

func (c *Controller) sectionErrLocked(s model.Section) error {
	switch {
	case !s.Valid():
		return ErrUnknownSection
	case c.closed || c.attempt.State == model.StateCompleted:
		return ErrAttemptClosed
	case c.attempt.State != model.StateOpen:
		return ErrAttemptNotOpen
	case c.warning != nil:
		return ErrWarningPending
	}
	return nil
}

// CanSubmit reports whether the manual submit action is enabled.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Controller) canSubmitLocked() bool {
	return c.attempt.State == model.StateOpen && c.warning == nil && c.sections.Ready()
}

// Submit completes the attempt manually. Every section must be complete and
// no violation warning may be pending. Auto-submit paths skip both checks.
func (c *Controller) Submit() (*model.AttemptResult, error) {
	c.mu.Lock()
	var notices []Notice

	if c.closed || c.attempt.State == model.StateCompleted {
		c.unlockAndDispatch(nil)
		return nil, ErrAttemptClosed
	}
	if c.attempt.State != model.StateOpen {
		c.unlockAndDispatch(nil)
		return nil, ErrAttemptNotOpen
	}
	if c.warning != nil {
		c.unlockAndDispatch(nil)
		return nil, ErrWarningPending
	}
	if !c.sections.Ready() {
		c.unlockAndDispatch(nil)
		return nil, ErrSectionsIncomplete
	}

	c.completeLocked(model.AttemptStatusSubmitted, &notices)
	result := *c.result
	c.unlockAndDispatch(notices)
	return &result, nil
}

// Interrupt simulates a technical issue that suspends an open attempt.
func (c *Controller) Interrupt(reason string) error {
	c.mu.Lock()
	var notices []Notice

	if c.closed || c.attempt.State == model.StateCompleted {
		c.unlockAndDispatch(nil)
		return ErrAttemptClosed
	}
	if c.attempt.State != model.StateOpen {
		c.unlockAndDispatch(nil)
		return ErrAttemptNotOpen
	}

	c.monitor.Detach()
	c.stopDurationLocked()
	c.attempt.State = model.StateInterrupted
	c.warning = nil
	c.log.Warn().Str("reason", reason).Msg("Attempt interrupted")
	notices = append(notices, c.notice(NoticeState))
	c.unlockAndDispatch(notices)
	return nil
}

// RequestReAttempt asks for approval to resume an interrupted attempt. The
// attempt reopens once after the approval delay.
func (c *Controller) RequestReAttempt() error {
	c.mu.Lock()
	var notices []Notice

	switch {
	case c.closed || c.attempt.State == model.StateCompleted:
		c.unlockAndDispatch(nil)
		return ErrAttemptClosed
	case c.attempt.State == model.StateReAttemptRequested:
		c.unlockAndDispatch(nil)
		return ErrReAttemptPending
	case c.attempt.State != model.StateInterrupted:
		c.unlockAndDispatch(nil)
		return ErrNotInterrupted
	}

	c.attempt.State = model.StateReAttemptRequested
	c.reAttemptSeq++
	seq := c.reAttemptSeq
	c.stopReAttempt = c.clock.AfterFunc(c.reAttemptDelay, func() { c.approveReAttempt(seq) })
	notices = append(notices, c.notice(NoticeState))
	c.unlockAndDispatch(notices)
	return nil
}

func (c *Controller) approveReAttempt(seq int) {
	c.mu.Lock()
	var notices []Notice
	if !c.closed && c.attempt.State == model.StateReAttemptRequested && seq == c.reAttemptSeq {
		c.stopReAttempt = nil
		c.log.Info().Msg("Re-attempt approved")
		c.openLocked(&notices)
	}
	c.unlockAndDispatch(notices)
}

// Acknowledge dismisses the pending violation warning and unblocks manual
// section completion and submission.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warning = nil
}

// Snapshot renders the attempt. Expiry is evaluated here and nowhere else.
func (c *Controller) Snapshot() model.AttemptView {
	c.mu.Lock()
	var notices []Notice
	c.expireLocked(&notices)

	view := model.AttemptView{
		Attempt:        c.attempt,
		Sections:       c.sections.Sections(),
		CanSubmit:      c.canSubmitLocked(),
		Violations:     c.violations.Violations(),
		ViolationCount: c.violations.Total(),
	}
	if c.attempt.Score != nil {
		score := *c.attempt.Score
		view.Score = &score
	}
	if c.attempt.State == model.StateScheduled {
		view.Countdown = c.countdown
	}
	if c.warning != nil {
		w := *c.warning
		view.PendingWarning = &w
	}
	if c.attempt.State == model.StateOpen && c.attempt.Duration > 0 {
		remaining := c.attempt.Duration - c.clock.Now().Sub(c.openedAt)
		view.RemainingTime = math.Max(remaining.Seconds(), 0)
	}

	c.unlockAndDispatch(notices)
	return view
}

// Result returns the final result, or nil while the attempt is unfinished.
func (c *Controller) Result() *model.AttemptResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// State returns the stored state without evaluating expiry.
func (c *Controller) State() model.AttemptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt.State
}

// Proctoring reports whether monitor listeners are currently attached.
func (c *Controller) Proctoring() bool {
	return c.monitor.Attached()
}

// Close releases timers and listeners. The controller rejects further mutation.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.releaseLocked()
}

func (c *Controller) expireLocked(notices *[]Notice) bool {
	switch c.attempt.State {
	case model.StateCompleted:
		return false
	case model.StateExpired:
		return true
	}
	if c.attempt.EndDate.IsZero() || !c.clock.Now().After(c.attempt.EndDate) {
		return false
	}
	c.releaseLocked()
	c.attempt.State = model.StateExpired
	c.warning = nil
	c.log.Info().Msg("Attempt expired")
	*notices = append(*notices, c.notice(NoticeState))
	return true
}

func (c *Controller) releaseLocked() {
	c.monitor.Detach()
	c.stopCountdownLocked()
	c.stopDurationLocked()
	if c.stopReAttempt != nil {
		c.stopReAttempt()
		c.stopReAttempt = nil
	}
}

func (c *Controller) stopCountdownLocked() {
	if c.stopCountdown != nil {
		c.stopCountdown()
		c.stopCountdown = nil
	}
}

func (c *Controller) stopDurationLocked() {
	if c.stopDuration != nil {
		c.stopDuration()
		c.stopDuration = nil
	}
}

func (c *Controller) notice(kind NoticeKind) Notice {
	return Notice{
		Kind:      kind,
		AttemptID: c.attempt.ID,
		State:     c.attempt.State,
		Countdown: c.countdown,
	}
}

// unlockAndDispatch releases c.mu and delivers notices in order.
func (c *Controller) unlockAndDispatch(notices []Notice) {
	if len(notices) == 0 || c.listener == nil {
		c.mu.Unlock()
		return
	}
	c.dmu.Lock()
	c.mu.Unlock()
	defer c.dmu.Unlock()
	for _, n := range notices {
		c.listener(n)
	}
}

func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
