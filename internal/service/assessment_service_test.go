package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/proctor/proctortest"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const studentID = 42

type harness struct {
	svc      *AssessmentService
	clock    *proctortest.FakeClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	sessions *store.SessionStore
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := proctortest.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	sessions := store.NewSessionStore(store.NewMemoryKV(), zerolog.Nop())
	m := metrics.New()

	svc := NewAssessmentService(
		NewCatalog(clock.Now()),
		sessions,
		NewRedisSignalBus(rdb),
		m,
		AttemptOptions{
			Clock:   clock,
			Rand:    proctortest.FixedRand(10),
			IdleTTL: 10 * time.Minute,
		},
		zerolog.Nop(),
	)
	t.Cleanup(svc.Shutdown)

	return &harness{svc: svc, clock: clock, mr: mr, rdb: rdb, sessions: sessions, metrics: m}
}

// open starts the attempt and runs the countdown to zero.
func (h *harness) open(t *testing.T, assessmentID string) {
	t.Helper()
	view, err := h.svc.Start(context.Background(), studentID, assessmentID)
	require.NoError(t, err)
	require.Equal(t, model.StateScheduled, view.State)
	h.clock.Advance(3 * time.Second)

	view, err = h.svc.View(context.Background(), studentID, assessmentID, false)
	require.NoError(t, err)
	require.Equal(t, model.StateOpen, view.State)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []proctor.Notice
}

func (l *noticeLog) add(n proctor.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) kinds() []proctor.NoticeKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]proctor.NoticeKind, 0, len(l.notices))
	for _, n := range l.notices {
		out = append(out, n.Kind)
	}
	return out
}

func TestManualSubmitPublishesCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.rdb.Subscribe(ctx, config.CacheKey.StudentSignalChannel(studentID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	h.open(t, "practice-assessment")

	_, err = h.svc.Submit(ctx, studentID, "practice-assessment")
	assert.ErrorIs(t, err, proctor.ErrSectionsIncomplete)

	_, err = h.svc.SubmitCoding(ctx, studentID, "practice-assessment", model.SubmitCodingRequest{
		Code:        "print(1)",
		TestResults: model.TestResults{Passed: 3, Total: 3},
	})
	require.NoError(t, err)
	_, err = h.svc.SubmitAnswers(ctx, studentID, "practice-assessment", model.SectionMCQ, model.SubmitAnswersRequest{
		Answers: map[string]string{"q1": "a"},
	})
	require.NoError(t, err)
	sections, err := h.svc.SubmitAnswers(ctx, studentID, "practice-assessment", model.SectionOpenEnded, model.SubmitAnswersRequest{
		Answers: map[string]string{"q1": "because"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Sections{Coding: true, MCQ: true, OpenEnded: true}, sections)

	result, err := h.svc.Submit(ctx, studentID, "practice-assessment")
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.True(t, result.Passed)
	assert.Equal(t, model.AttemptStatusSubmitted, result.AttemptStatus)

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var signal model.CompletionSignal
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &signal))
	assert.Equal(t, model.SignalAssessmentCompleted, signal.Type)
	assert.Equal(t, "practice-assessment", signal.Payload.AssessmentID)
	assert.Equal(t, 100, signal.Payload.Score)
	assert.Equal(t, model.StateCompleted, signal.Payload.State)

	queued, err := h.mr.List(config.WorkerKey.PersistResultsQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Completed.WithLabelValues("submitted", "true")))
}

func TestViolationsWarnThenAutoSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(t, "high-score-assessment")

	var log noticeLog
	cancel, err := h.svc.Watch(ctx, studentID, "high-score-assessment", log.add)
	require.NoError(t, err)
	defer cancel()

	copyEvent := proctor.Event{Kind: proctor.EventCopy}
	require.NoError(t, h.svc.Dispatch(studentID, "high-score-assessment", copyEvent))

	view, err := h.svc.View(ctx, studentID, "high-score-assessment", false)
	require.NoError(t, err)
	require.NotNil(t, view.PendingWarning)
	assert.Equal(t, 2, view.PendingWarning.Remaining)

	view, err = h.svc.Acknowledge(ctx, studentID, "high-score-assessment")
	require.NoError(t, err)
	assert.Nil(t, view.PendingWarning)

	require.NoError(t, h.svc.Dispatch(studentID, "high-score-assessment", copyEvent))
	require.NoError(t, h.svc.Dispatch(studentID, "high-score-assessment", copyEvent))
	// Ignored once the attempt is complete.
	require.NoError(t, h.svc.Dispatch(studentID, "high-score-assessment", copyEvent))

	view, err = h.svc.View(ctx, studentID, "high-score-assessment", false)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, view.State)
	assert.Equal(t, model.AttemptStatusAutoSubmitted, view.AttemptStatus)
	require.NotNil(t, view.Score)
	assert.Equal(t, 85, *view.Score)
	assert.Equal(t, 3, view.ViolationCount)

	assert.Equal(t, []proctor.NoticeKind{
		proctor.NoticeViolation, proctor.NoticeWarning,
		proctor.NoticeViolation, proctor.NoticeWarning,
		proctor.NoticeViolation, proctor.NoticeState, proctor.NoticeCompleted,
	}, log.kinds())

	queued, err := h.mr.List(config.WorkerKey.PersistViolationsQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.Violations.WithLabelValues("copy-paste")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AutoSubmits.WithLabelValues("violations")))
}

func TestStartRestoresStoredSections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SaveCoding(ctx, studentID, "practice-assessment", model.CodingSubmission{Code: "x"}))

	view, err := h.svc.Start(ctx, studentID, "practice-assessment")
	require.NoError(t, err)
	assert.Equal(t, model.Sections{Coding: true}, view.Sections)

	rec, err := h.svc.SectionRecord(ctx, studentID, "practice-assessment", model.SectionCoding)
	require.NoError(t, err)
	require.IsType(t, &model.CodingSubmission{}, rec)
	assert.Equal(t, "x", rec.(*model.CodingSubmission).Code)
}

func TestResultsViewAfterLeaving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.View(ctx, studentID, "low-score-assessment", true)
	assert.ErrorIs(t, err, ErrNoResult)

	h.open(t, "low-score-assessment")
	h.clock.Advance(46 * time.Minute)

	h.svc.Leave(studentID, "low-score-assessment")
	assert.Equal(t, 0, h.svc.Active())

	view, err := h.svc.View(ctx, studentID, "low-score-assessment", true)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, view.State)
	require.NotNil(t, view.Score)
	assert.Equal(t, 45, *view.Score)
	assert.Equal(t, 0, h.svc.Active())

	_, err = h.svc.Start(ctx, studentID, "low-score-assessment")
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AutoSubmits.WithLabelValues("duration")))
}

func TestReAttemptOnInterruptedFixture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.svc.RequestReAttempt(ctx, studentID, "interrupted-assessment")
	require.NoError(t, err)
	assert.Equal(t, model.StateReAttemptRequested, view.State)

	_, err = h.svc.RequestReAttempt(ctx, studentID, "interrupted-assessment")
	assert.ErrorIs(t, err, proctor.ErrReAttemptPending)

	h.clock.Advance(3 * time.Second)
	view, err = h.svc.View(ctx, studentID, "interrupted-assessment", false)
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, view.State)

	view, err = h.svc.Interrupt(ctx, studentID, "interrupted-assessment", "network lost")
	require.NoError(t, err)
	assert.Equal(t, model.StateInterrupted, view.State)
}

func TestMutationsRequireStartedAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, studentID, "practice-assessment")
	assert.ErrorIs(t, err, ErrAttemptNotStarted)
	assert.ErrorIs(t, h.svc.Dispatch(studentID, "practice-assessment", proctor.Event{Kind: proctor.EventCopy}), ErrAttemptNotStarted)

	_, err = h.svc.Start(ctx, studentID, "no-such-assessment")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)

	_, err = h.svc.SubmitAnswers(ctx, studentID, "practice-assessment", model.SectionCoding, model.SubmitAnswersRequest{})
	assert.ErrorIs(t, err, proctor.ErrUnknownSection)
}

func TestListRendersStates(t *testing.T) {
	h := newHarness(t)
	views, err := h.svc.List(context.Background(), studentID)
	require.NoError(t, err)

	states := make(map[string]model.AttemptState, len(views))
	for _, v := range views {
		states[v.AssessmentID] = v.State
	}
	assert.Equal(t, model.StateExpired, states["expired-assessment"])
	assert.Equal(t, model.StateInterrupted, states["interrupted-assessment"])
	assert.Equal(t, model.StateScheduled, states["scheduled-assessment"])
	assert.Equal(t, 0, h.svc.Active())
}

func TestEvictStaleSkipsWatchedAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, studentID, "practice-assessment")
	require.NoError(t, err)
	cancel, err := h.svc.Watch(ctx, studentID, "scheduled-assessment", func(proctor.Notice) {})
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, h.svc.EvictStale())
	assert.Equal(t, 1, h.svc.Active())

	cancel()
	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, h.svc.EvictStale())
	assert.Equal(t, 0, h.svc.Active())
}

func TestSubmitAssignmentStoresLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.svc.SubmitAssignment(ctx, studentID, "portfolio", model.AssignmentSubmissionRequest{
		Link: "https://github.com/student/portfolio",
	})
	require.NoError(t, err)

	stored, err := h.sessions.LoadAssignment(ctx, studentID, "portfolio")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sub.Link, stored.Link)
}

func TestCompletedAttemptStaysClosedAfterLeaving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.open(t, "low-score-assessment")
	h.clock.Advance(46 * time.Minute)
	assert.True(t, h.svc.Leave(studentID, "low-score-assessment"))
	assert.False(t, h.svc.Leave(studentID, "low-score-assessment"))

	_, err := h.svc.RequestReAttempt(ctx, studentID, "low-score-assessment")
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)
	assert.Equal(t, 0, h.svc.Active())

	_, err = h.svc.Start(ctx, studentID, "low-score-assessment")
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)

	_, err = h.svc.Watch(ctx, studentID, "low-score-assessment", func(proctor.Notice) {})
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)

	_, err = h.svc.Submit(ctx, studentID, "low-score-assessment")
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)
	assert.Equal(t, 0, h.svc.Active())

	h.clock.Advance(3 * time.Second)
	view, err := h.svc.View(ctx, studentID, "low-score-assessment", false)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, view.State)
	assert.Equal(t, 0, h.svc.Active())
}

func TestEvictedCompletedAttemptIsNotRecreated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.open(t, "high-score-assessment")
	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.Dispatch(studentID, "high-score-assessment", proctor.Event{Kind: proctor.EventContextMenu}))
	}
	h.clock.Advance(11 * time.Minute)
	require.Equal(t, 1, h.svc.EvictStale())

	_, err := h.svc.Start(ctx, studentID, "high-score-assessment")
	assert.ErrorIs(t, err, proctor.ErrAttemptClosed)
	assert.Equal(t, 0, h.svc.Active())
}

func TestPendingWarningBlocksSectionSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(t, "practice-assessment")

	require.NoError(t, h.svc.Dispatch(studentID, "practice-assessment", proctor.Event{Kind: proctor.EventCopy}))

	_, err := h.svc.SubmitAnswers(ctx, studentID, "practice-assessment", model.SectionMCQ, model.SubmitAnswersRequest{
		Answers: map[string]string{"q1": "a"},
	})
	assert.ErrorIs(t, err, proctor.ErrWarningPending)

	rec, err := h.svc.SectionRecord(ctx, studentID, "practice-assessment", model.SectionMCQ)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = h.svc.Acknowledge(ctx, studentID, "practice-assessment")
	require.NoError(t, err)
	sections, err := h.svc.SubmitAnswers(ctx, studentID, "practice-assessment", model.SectionMCQ, model.SubmitAnswersRequest{
		Answers: map[string]string{"q1": "a"},
	})
	require.NoError(t, err)
	assert.True(t, sections.MCQ)
}

// failingKV rejects writes to keys containing match.
type failingKV struct {
	store.KV
	match string
}

func (f failingKV) Set(ctx context.Context, key, value string) error {
	if strings.Contains(key, f.match) {
		return errors.New("disk full")
	}
	return f.KV.Set(ctx, key, value)
}

func TestFailedSectionSaveLeavesSectionIncomplete(t *testing.T) {
	clock := proctortest.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	svc := NewAssessmentService(
		NewCatalog(clock.Now()),
		store.NewSessionStore(failingKV{KV: store.NewMemoryKV(), match: string(model.SectionCoding)}, zerolog.Nop()),
		NopSignalBus{},
		nil,
		AttemptOptions{Clock: clock, Rand: proctortest.FixedRand(10)},
		zerolog.Nop(),
	)
	t.Cleanup(svc.Shutdown)
	ctx := context.Background()

	_, err := svc.Start(ctx, studentID, "practice-assessment")
	require.NoError(t, err)
	clock.Advance(3 * time.Second)

	_, err = svc.SubmitCoding(ctx, studentID, "practice-assessment", model.SubmitCodingRequest{Code: "x"})
	require.Error(t, err)

	view, err := svc.View(ctx, studentID, "practice-assessment", false)
	require.NoError(t, err)
	assert.False(t, view.Sections.Coding)
}
