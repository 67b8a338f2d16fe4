package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/geofetch/internal/ports/output"
)

func TestSyncService_TriggerSync(t *testing.T) {
	storage := &mockStorage{objects: []output.StorageObject{{Key: "a.geojson"}, {Key: "b.geojson"}}}
	registry := newTestRegistry(&mockLoader{}, storage, t.TempDir())
	service := NewSyncService(registry, time.Hour, testLogger())

	result, err := service.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	if result.BoundariesAdded != 2 {
		t.Errorf("BoundariesAdded = %d, want 2", result.BoundariesAdded)
	}
	if result.BoundariesTotal != 2 {
		t.Errorf("BoundariesTotal = %d, want 2", result.BoundariesTotal)
	}
	if result.SyncedAt.IsZero() {
		t.Error("SyncedAt not set")
	}

	// A second manual sync within the cooldown is rejected.
	if _, err := service.TriggerSync(context.Background()); !errors.Is(err, ErrSyncTooFrequent) {
		t.Errorf("second TriggerSync() error = %v, want ErrSyncTooFrequent", err)
	}
}

func TestSyncService_TriggerSyncError(t *testing.T) {
	registry := newTestRegistry(&mockLoader{}, &mockStorage{listErr: errors.New("unreachable")}, t.TempDir())
	service := NewSyncService(registry, time.Hour, testLogger())

	if _, err := service.TriggerSync(context.Background()); err == nil {
		t.Error("TriggerSync() error = nil, want error")
	}
}

func TestSyncService_StartStop(t *testing.T) {
	storage := &mockStorage{objects: []output.StorageObject{{Key: "a.geojson"}}}
	registry := newTestRegistry(&mockLoader{}, storage, t.TempDir())
	service := NewSyncService(registry, 10*time.Millisecond, testLogger())

	service.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for registry.BoundaryCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	service.Stop()

	if registry.BoundaryCount() != 1 {
		t.Errorf("BoundaryCount() = %d, want 1 after scheduled sync", registry.BoundaryCount())
	}
}

func TestSyncService_StopsOnContextCancel(t *testing.T) {
	registry := newTestRegistry(&mockLoader{}, nil, t.TempDir())
	service := NewSyncService(registry, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	service.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		service.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sync loop did not stop after context cancel")
	}
}

func TestSyncService_ManualOnly(t *testing.T) {
	storage := &mockStorage{objects: []output.StorageObject{{Key: "a.geojson"}}}
	registry := newTestRegistry(&mockLoader{}, storage, t.TempDir())
	service := NewSyncService(registry, 0, testLogger())

	service.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if registry.BoundaryCount() != 0 {
		t.Errorf("BoundaryCount() = %d, want 0 without a sync interval", registry.BoundaryCount())
	}
	service.Stop()

	if _, err := service.TriggerSync(context.Background()); err != nil {
		t.Errorf("TriggerSync() error = %v", err)
	}
}
