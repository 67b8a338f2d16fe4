package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSyncTooFrequent is returned when a manual sync is requested before the
// cooldown has passed.
var ErrSyncTooFrequent = errors.New("sync requested too frequently")

// SyncCooldown is the minimum time between two manual syncs.
const SyncCooldown = 30 * time.Second

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	BoundariesAdded   int       `json:"boundaries_added"`
	BoundariesUpdated int       `json:"boundaries_updated"`
	BoundariesRemoved int       `json:"boundaries_removed"`
	BoundariesTotal   int       `json:"boundaries_total"`
	SyncedAt          time.Time `json:"synced_at"`
}

// SyncService periodically pulls boundary files from remote storage.
type SyncService struct {
	registry *BoundaryRegistry
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex // serializes syncs
	lastManual time.Time
}

// NewSyncService creates a new sync service.
func NewSyncService(registry *BoundaryRegistry, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		registry: registry,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync loop. Without an interval only manual
// syncs run.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("starting boundary sync", "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.sync(ctx); err != nil {
					s.logger.Error("scheduled sync failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the sync loop and waits for a running sync to finish.
func (s *SyncService) Stop() {
	s.logger.Info("stopping boundary sync")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync runs a sync now. It returns ErrSyncTooFrequent when called
// again within SyncCooldown.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if time.Since(s.lastManual) < SyncCooldown {
		s.mu.Unlock()
		return SyncResult{}, ErrSyncTooFrequent
	}
	s.lastManual = time.Now()
	s.mu.Unlock()

	return s.sync(ctx)
}

func (s *SyncService) sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		BoundariesAdded:   stats.Added,
		BoundariesUpdated: stats.Updated,
		BoundariesRemoved: stats.Removed,
		BoundariesTotal:   s.registry.BoundaryCount(),
		SyncedAt:          time.Now(),
	}, nil
}
