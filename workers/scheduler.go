package workers

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	s   gocron.Scheduler
	log *zap.Logger
}

func NewScheduler(log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Scheduler{s: s, log: log}, nil
}

// Every registers fn to run every interval. A run that is still going when
// the next one is due makes the next one wait.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			fn()
			s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	return err
}

func (s *Scheduler) Start() {
	s.s.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.s.Jobs())))
}

// Shutdown stops scheduling and waits for running jobs.
func (s *Scheduler) Shutdown() {
	if err := s.s.Shutdown(); err != nil {
		s.log.Warn("scheduler shutdown", zap.Error(err))
	}
}
