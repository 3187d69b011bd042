package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSyncer struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (s *countingSyncer) ProcessPending(ctx context.Context, limit int) (int, error) {
	s.calls.Add(1)
	s.limit.Store(int32(limit))
	return 0, s.err
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
}

func TestNewSyncProcessor_FillsDefaults(t *testing.T) {
	processor := NewSyncProcessor(&countingSyncer{}, SyncProcessorConfig{})

	if processor.config.PollInterval != 30*time.Second {
		t.Errorf("expected default PollInterval, got %v", processor.config.PollInterval)
	}
	if processor.config.BatchSize != 10 {
		t.Errorf("expected default BatchSize, got %d", processor.config.BatchSize)
	}
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingSyncer{}, DefaultSyncProcessorConfig())

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestSyncProcessor_StartWithoutSyncer(t *testing.T) {
	processor := NewSyncProcessor(nil, DefaultSyncProcessorConfig())

	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error when starting without a syncer")
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after a failed start")
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	syncer := &countingSyncer{}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{PollInterval: time.Hour, BatchSize: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer processor.Stop(context.Background())

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_RunsImmediatelyAndStops(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("sheets down")}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{PollInterval: 10 * time.Millisecond, BatchSize: 7})

	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for syncer.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if syncer.calls.Load() < 2 {
		t.Fatalf("expected the loop to keep polling after an error, got %d calls", syncer.calls.Load())
	}
	if got := syncer.limit.Load(); got != 7 {
		t.Errorf("expected batch size 7 to be passed, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := processor.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingSyncer{}, DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}
