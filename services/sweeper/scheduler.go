package sweeper

import (
	"context"
	"sync"
	"time"

	"parcelqr/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service  *Service
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	return &Scheduler{service: svc, interval: cfg.QR.SweepInterval}
}

// StartScheduler runs the sweep loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

func (s *Scheduler) Start() {
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(ctx)
	})
}

// Stop cancels the loop and waits for it to exit, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if s.interval <= 0 {
		zap.L().Warn("[Scheduler] qr sweep interval not positive, scheduler disabled", zap.Duration("interval", s.interval))
		return
	}

	zap.L().Info("[Scheduler] started qr token sweep scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Info("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()

	job, err := s.service.EnqueueSweep(ctx, TriggerScheduler)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue qr token sweep", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] qr token sweep scheduled",
		zap.String("job_id", job.ID),
		zap.Duration("duration", time.Since(start)),
	)
}
