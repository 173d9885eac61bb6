package proctor

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RecordFunc receives every classified violation.
type RecordFunc func(vt model.ViolationType, label string)

// Monitor turns raw events from an EventSource into violations. It only
// listens between Attach and Detach.
type Monitor struct {
	source EventSource
	record RecordFunc
	log    zerolog.Logger

	mu     sync.Mutex
	cancel func()
}

// NewMonitor creates a detached Monitor. A nil source disables proctoring.
func NewMonitor(source EventSource, record RecordFunc, log zerolog.Logger) *Monitor {
	return &Monitor{
		source: source,
		record: record,
		log:    log.With().Str("component", "proctor_monitor").Logger(),
	}
}

// Attach subscribes to the source. Calling it while attached is a no-op.
func (m *Monitor) Attach() {
	if m.source == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	m.cancel = m.source.Subscribe(m.handle)
	m.log.Debug().Msg("Proctoring listeners attached")
}

// Detach releases the subscription. Safe to call repeatedly.
func (m *Monitor) Detach() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.log.Debug().Msg("Proctoring listeners released")
	}
}

// Attached reports whether the monitor currently holds a subscription.
func (m *Monitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) handle(e Event) {
	if !m.Attached() {
		return
	}

	if e.Kind == EventFullscreenError {
		// Fullscreen denied or unsupported; the attempt continues unenforced.
		m.log.Warn().Str("detail", e.Detail).Msg("Fullscreen request failed")
		return
	}

	vt, label, ok := Classify(e)
	if !ok {
		return
	}
	m.record(vt, label)
}
