package services

import (
	"context"
	"sync"
	"time"

	"triviaapp/internal/observability"
)

// CleanupService periodically sweeps terminal jobs out of the registry once
// their retention window has passed.
type CleanupService struct {
	interval  time.Duration
	retention time.Duration
	registry  JobRegistry
	logger    *observability.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupService creates a cleanup service with the given sweep interval
// and retention window.
func NewCleanupService(interval, retention time.Duration, registry JobRegistry, logger *observability.Logger) *CleanupService {
	return &CleanupService{
		interval:  interval,
		retention: retention,
		registry:  registry,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context is canceled
func (s *CleanupService) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info(ctx, "Cleanup service started", map[string]interface{}{
			"interval":  s.interval.String(),
			"retention": s.retention.String(),
		})
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error(ctx, "Cleanup sweep failed", err)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce performs a single sweep and returns how many jobs were removed
func (s *CleanupService) RunOnce(ctx context.Context) (int, error) {
	return s.registry.SweepTerminal(ctx, s.retention)
}

// Stop halts the sweep loop and waits for it to exit
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
