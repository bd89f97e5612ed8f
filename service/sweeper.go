package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Sweeper runs the expiry sweep on a fixed interval. The service itself
// guards against overlapping sweeps; the sweeper only provides the schedule.
type Sweeper struct {
	service  *SessionKeyService
	interval time.Duration
	logger   watermill.LoggerAdapter
}

// NewSweeper creates a sweeper that runs CleanupExpiredKeys every interval
func NewSweeper(service *SessionKeyService, interval time.Duration, logger watermill.LoggerAdapter) *Sweeper {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", watermill.LogFields{"interval": s.interval})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.service.CleanupExpiredKeys(ctx); err != nil {
				s.logger.Error("expiry sweep failed", err, nil)
			}
		}
	}
}
