package proctor

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor/proctortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) listen(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) kinds(kind NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	clock *proctortest.FakeClock
	feed  *Feed
	rec   *recorder
	ctrl  *Controller
}

func newHarness(t *testing.T, attempt model.Attempt) *harness {
	t.Helper()
	h := &harness{
		clock: proctortest.NewFakeClock(epoch),
		feed:  NewFeed(),
		rec:   &recorder{},
	}
	if attempt.ID == "" {
		attempt.ID = "attempt-1"
	}
	if attempt.AssessmentID == "" {
		attempt.AssessmentID = "practice-assessment"
	}
	h.ctrl = NewController(attempt, Options{
		Clock:    h.clock,
		Rand:     proctortest.FixedRand(10),
		Source:   h.feed,
		Logger:   zerolog.Nop(),
		Listener: h.rec.listen,
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start())
	h.clock.Advance(3 * time.Second)
	require.Equal(t, model.StateOpen, h.ctrl.State())
}

func TestCountdownOpensAfterThreeTicks(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	require.NoError(t, h.ctrl.Start())
	assert.Equal(t, 3, h.ctrl.Snapshot().Countdown)
	assert.False(t, h.ctrl.Proctoring())

	h.clock.Advance(time.Second)
	assert.Equal(t, model.StateScheduled, h.ctrl.State())
	h.clock.Advance(time.Second)
	assert.Equal(t, model.StateScheduled, h.ctrl.State())
	assert.Equal(t, 1, h.ctrl.Snapshot().Countdown)

	h.clock.Advance(time.Second)
	assert.Equal(t, model.StateOpen, h.ctrl.State())
	assert.True(t, h.ctrl.Proctoring())
	assert.Equal(t, 1, h.feed.Subscribers())

	countdowns := h.rec.kinds(NoticeCountdown)
	require.Len(t, countdowns, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{countdowns[0].Countdown, countdowns[1].Countdown, countdowns[2].Countdown})
	assert.Equal(t, 0, h.clock.Pending())
}

func TestCountdownUsesStartDateWhenInFuture(t *testing.T) {
	h := newHarness(t, model.Attempt{StartDate: epoch.Add(90 * time.Second)})
	require.NoError(t, h.ctrl.Start())
	assert.Equal(t, 90, h.ctrl.Snapshot().Countdown)

	h.clock.Advance(89 * time.Second)
	assert.Equal(t, model.StateScheduled, h.ctrl.State())

	h.clock.Advance(time.Second)
	assert.Equal(t, model.StateOpen, h.ctrl.State())
}

func TestStartIsIdempotentWhileCountingDown(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.Start())
	assert.Equal(t, 1, h.clock.Pending())
}

func TestSubmitRequiresAllSections(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	h.open(t)

	assert.False(t, h.ctrl.CanSubmit())
	_, err := h.ctrl.Submit()
	assert.ErrorIs(t, err, ErrSectionsIncomplete)

	for _, s := range []model.Section{model.SectionCoding, model.SectionMCQ} {
		_, err := h.ctrl.CompleteSection(s)
		require.NoError(t, err)
	}
	assert.False(t, h.ctrl.CanSubmit())

	sections, err := h.ctrl.CompleteSection(model.SectionOpenEnded)
	require.NoError(t, err)
	assert.Equal(t, model.Sections{Coding: true, MCQ: true, OpenEnded: true}, sections)
	assert.True(t, h.ctrl.CanSubmit())

	result, err := h.ctrl.Submit()
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.True(t, result.Passed)
	assert.Equal(t, model.AttemptStatusSubmitted, result.AttemptStatus)
	assert.Equal(t, model.StateCompleted, h.ctrl.State())
	assert.False(t, h.ctrl.Proctoring())

	_, err = h.ctrl.Submit()
	assert.ErrorIs(t, err, ErrAttemptClosed)
	_, err = h.ctrl.CompleteSection(model.SectionCoding)
	assert.ErrorIs(t, err, ErrAttemptClosed)
}

func TestCompleteSectionRejectsUnknownAndClosedStates(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	_, err := h.ctrl.CompleteSection(model.Section("essay"))
	assert.ErrorIs(t, err, ErrUnknownSection)

	_, err = h.ctrl.CompleteSection(model.SectionCoding)
	assert.ErrorIs(t, err, ErrAttemptNotOpen)
}

func TestViolationsWarnThenAutoSubmitOnce(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	h.open(t)
	_, err := h.ctrl.CompleteSection(model.SectionCoding)
	require.NoError(t, err)

	h.feed.Publish(Event{Kind: EventCopy})
	view := h.ctrl.Snapshot()
	require.NotNil(t, view.PendingWarning)
	assert.Equal(t, model.ViolationCopyPaste, view.PendingWarning.Type)
	assert.Equal(t, 2, view.PendingWarning.Remaining)

	h.ctrl.Acknowledge()
	assert.Nil(t, h.ctrl.Snapshot().PendingWarning)

	h.feed.Publish(Event{Kind: EventKeyDown, Key: "v", Ctrl: true})
	assert.Equal(t, model.StateOpen, h.ctrl.State())

	h.feed.Publish(Event{Kind: EventPaste})
	assert.Equal(t, model.StateCompleted, h.ctrl.State())

	// Listeners are released, so further events are ignored.
	h.feed.Publish(Event{Kind: EventCopy})
	assert.Equal(t, 0, h.feed.Subscribers())

	completed := h.rec.kinds(NoticeCompleted)
	require.Len(t, completed, 1)
	result := completed[0].Result
	assert.Equal(t, model.AttemptStatusAutoSubmitted, result.AttemptStatus)
	assert.Equal(t, 3, result.ViolationCount)
	assert.Equal(t, []model.Violation{{Type: model.ViolationCopyPaste, Count: 3}}, result.Violations)
	assert.Equal(t, 40, result.Score)
	assert.Equal(t, result.Score >= 60, result.Passed)

	assert.Len(t, h.rec.kinds(NoticeWarning), 2)
	violations := h.rec.kinds(NoticeViolation)
	require.Len(t, violations, 3)
	for i, n := range violations {
		assert.Equal(t, i+1, n.Violation.Total)
	}
}

func TestAutoSubmitUsesFixedScore(t *testing.T) {
	h := newHarness(t, model.Attempt{AssessmentID: "high-score-assessment"})
	h.open(t)

	for i := 0; i < 3; i++ {
		h.feed.Publish(Event{Kind: EventFullscreenChange})
	}

	result := h.ctrl.Result()
	require.NotNil(t, result)
	assert.Equal(t, 85, result.Score)
	assert.True(t, result.Passed)
}

func TestDurationElapsedAutoSubmits(t *testing.T) {
	h := newHarness(t, model.Attempt{Duration: 10 * time.Minute, AssessmentID: "low-score-assessment"})
	h.open(t)

	h.clock.Advance(4 * time.Minute)
	assert.InDelta(t, 360, h.ctrl.Snapshot().RemainingTime, 0.001)

	h.clock.Advance(6 * time.Minute)
	result := h.ctrl.Result()
	require.NotNil(t, result)
	assert.Equal(t, model.AttemptStatusAutoSubmitted, result.AttemptStatus)
	assert.Equal(t, 45, result.Score)
	assert.False(t, result.Passed)
}

func TestReAttemptReopensOncePerRequest(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	h.open(t)

	require.NoError(t, h.ctrl.Interrupt("network dropped"))
	assert.Equal(t, model.StateInterrupted, h.ctrl.State())
	assert.False(t, h.ctrl.Proctoring())

	require.NoError(t, h.ctrl.RequestReAttempt())
	assert.Equal(t, model.StateReAttemptRequested, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.RequestReAttempt(), ErrReAttemptPending)

	h.clock.Advance(DefaultReAttemptDelay - time.Millisecond)
	assert.Equal(t, model.StateReAttemptRequested, h.ctrl.State())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, model.StateOpen, h.ctrl.State())
	assert.True(t, h.ctrl.Proctoring())

	var states []model.AttemptState
	for _, n := range h.rec.kinds(NoticeState) {
		states = append(states, n.State)
	}
	assert.Equal(t, []model.AttemptState{
		model.StateOpen,
		model.StateInterrupted,
		model.StateReAttemptRequested,
		model.StateOpen,
	}, states)

	h.clock.Advance(time.Hour)
	assert.Len(t, h.rec.kinds(NoticeState), 4)
	assert.ErrorIs(t, h.ctrl.RequestReAttempt(), ErrNotInterrupted)
}

func TestInterruptedFixtureCanReAttempt(t *testing.T) {
	h := newHarness(t, model.Attempt{State: model.StateInterrupted})
	require.NoError(t, h.ctrl.Start())
	assert.False(t, h.ctrl.Proctoring())

	require.NoError(t, h.ctrl.RequestReAttempt())
	h.clock.Advance(DefaultReAttemptDelay)
	assert.Equal(t, model.StateOpen, h.ctrl.State())
}

func TestExpiryIsEvaluatedOnSnapshot(t *testing.T) {
	h := newHarness(t, model.Attempt{EndDate: epoch.Add(time.Hour)})
	h.open(t)

	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, model.StateOpen, h.ctrl.State())

	view := h.ctrl.Snapshot()
	assert.Equal(t, model.StateExpired, view.State)
	assert.False(t, view.CanSubmit)
	assert.False(t, h.ctrl.Proctoring())
	assert.ErrorIs(t, h.ctrl.Start(), ErrAttemptExpired)
}

func TestCompletedAttemptDoesNotExpire(t *testing.T) {
	h := newHarness(t, model.Attempt{EndDate: epoch.Add(time.Hour)})
	h.open(t)
	for i := 0; i < 3; i++ {
		h.feed.Publish(Event{Kind: EventContextMenu})
	}

	h.clock.Advance(2 * time.Hour)
	view := h.ctrl.Snapshot()
	assert.Equal(t, model.StateCompleted, view.State)
	require.NotNil(t, view.Score)
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, model.Attempt{Duration: time.Hour})
	h.open(t)
	require.Equal(t, 1, h.clock.Pending())

	h.ctrl.Close()
	h.ctrl.Close()
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.feed.Subscribers())
	assert.ErrorIs(t, h.ctrl.Start(), ErrAttemptClosed)
	assert.ErrorIs(t, h.ctrl.Interrupt(""), ErrAttemptClosed)
}

func TestPendingWarningBlocksManualActions(t *testing.T) {
	h := newHarness(t, model.Attempt{})
	h.open(t)
	for _, s := range []model.Section{model.SectionCoding, model.SectionMCQ} {
		_, err := h.ctrl.CompleteSection(s)
		require.NoError(t, err)
	}

	h.feed.Publish(Event{Kind: EventCopy})
	require.NotNil(t, h.ctrl.Snapshot().PendingWarning)

	sections, err := h.ctrl.CompleteSection(model.SectionOpenEnded)
	assert.ErrorIs(t, err, ErrWarningPending)
	assert.False(t, sections.OpenEnded)
	_, err = h.ctrl.Submit()
	assert.ErrorIs(t, err, ErrWarningPending)

	h.ctrl.Acknowledge()
	_, err = h.ctrl.CompleteSection(model.SectionOpenEnded)
	require.NoError(t, err)
	assert.True(t, h.ctrl.CanSubmit())

	h.feed.Publish(Event{Kind: EventPaste})
	assert.False(t, h.ctrl.CanSubmit())
	assert.False(t, h.ctrl.Snapshot().CanSubmit)
	_, err = h.ctrl.Submit()
	assert.ErrorIs(t, err, ErrWarningPending)

	h.ctrl.Acknowledge()
	result, err := h.ctrl.Submit()
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusSubmitted, result.AttemptStatus)
}

func TestPendingWarningDoesNotBlockAutoSubmit(t *testing.T) {
	h := newHarness(t, model.Attempt{Duration: 10 * time.Minute})
	h.open(t)

	h.feed.Publish(Event{Kind: EventContextMenu})
	require.NotNil(t, h.ctrl.Snapshot().PendingWarning)

	h.clock.Advance(10 * time.Minute)
	result := h.ctrl.Result()
	require.NotNil(t, result)
	assert.Equal(t, model.AttemptStatusAutoSubmitted, result.AttemptStatus)
	assert.Nil(t, h.ctrl.Snapshot().PendingWarning)
}
