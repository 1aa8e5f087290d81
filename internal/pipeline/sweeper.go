package pipeline

// sweeper.go drops pending batches whose TTL has passed.
//
// Lookups already refuse expired batches; the sweeper only frees their
// memory when nobody asks for them again.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs.
const DefaultSweepInterval = time.Minute

// StartExpirySweeper removes expired batches every interval until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (s *Service) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("batch expiry sweeper started", "interval", interval, "ttl", s.cfg.BatchTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("batch expiry sweeper stopped")
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				slog.Info("expired batches removed", "count", n)
			}
		}
	}
}

// SweepExpired removes every expired batch and returns how many it removed.
func (s *Service) SweepExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, b := range s.batches {
		if !now.Before(b.expiresAt) {
			delete(s.batches, id)
			n++
		}
	}
	return n
}

// Shutdown waits for in-flight ingests to finish or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
