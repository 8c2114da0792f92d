package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InsertStats keeps track of journal writes
type InsertStats struct {
	sync.Mutex
	Inserted int
	Failed   int
}

func (s *InsertStats) IncrementInserted() {
	s.Lock()
	s.Inserted++
	s.Unlock()
}

func (s *InsertStats) IncrementFailed() {
	s.Lock()
	s.Failed++
	s.Unlock()
}

// Snapshot returns the current counts.
func (s *InsertStats) Snapshot() (inserted, failed int) {
	s.Lock()
	defer s.Unlock()
	return s.Inserted, s.Failed
}

// RunSummary logs the counters every interval until ctx is done.
func (s *InsertStats) RunSummary(ctx context.Context, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inserted, failed := s.Snapshot()
			logger.Infow("command journal summary", "inserted", inserted, "failed", failed)
		}
	}
}
