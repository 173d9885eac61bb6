package worker

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Evictor releases attempts nobody is using any more.
type Evictor interface {
	EvictStale() int
}

// Sweeper periodically evicts idle attempt controllers. Other housekeeping
// jobs can share its scheduler through AddJob.
type Sweeper struct {
	scheduler *gocron.Scheduler
	evictor   Evictor
	interval  time.Duration
	log       zerolog.Logger
}

func NewSweeper(evictor Evictor, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		evictor:   evictor,
		interval:  interval,
		log:       log.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start() error {
	if _, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.Sweep); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.log.Info().Dur("interval", s.interval).Msg("Sweeper started")
	return nil
}

// AddJob schedules job every interval. The job returns how many entries it removed.
func (s *Sweeper) AddJob(name string, interval time.Duration, job func() int) error {
	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		if n := job(); n > 0 {
			s.log.Debug().Str("job", name).Int("removed", n).Msg("Housekeeping job finished")
		}
	})
	return err
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// Sweep runs one eviction pass.
func (s *Sweeper) Sweep() {
	if n := s.evictor.EvictStale(); n > 0 {
		s.log.Info().Int("evicted", n).Msg("Released idle attempts")
	}
}
