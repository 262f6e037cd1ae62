// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package supervisor

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmulens/danmulens/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// blockingService runs until canceled and counts its starts.
type blockingService struct {
	name   string
	starts atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

// flakyService fails a fixed number of times before settling.
type flakyService struct {
	fails  atomic.Int32
	maxN   int32
	starts atomic.Int32
}

func (s *flakyService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fails.Add(1) <= s.maxN {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *flakyService) String() string { return "flaky" }

func waitForInt32(t *testing.T, timeout time.Duration, get func() int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("value %d never reached %d", get(), want)
}

func TestTreeServesAndStops(t *testing.T) {
	tree := NewSupervisorTree(logging.NewSlogLogger(), DefaultTreeConfig())

	pipeline := &blockingService{name: "pipeline"}
	apiSvc := &blockingService{name: "api"}
	tree.AddPipelineService(pipeline)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitForInt32(t, time.Second, pipeline.starts.Load, 1)
	waitForInt32(t, time.Second, apiSvc.starts.Load, 1)

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewSupervisorTree(logging.NewSlogLogger(), cfg)

	svc := &flakyService{maxN: 2}
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	// Two failures plus the settled run.
	waitForInt32(t, 2*time.Second, svc.starts.Load, 3)
}

func TestTreeFailureIsolation(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewSupervisorTree(logging.NewSlogLogger(), cfg)

	flaky := &flakyService{maxN: 2}
	stable := &blockingService{name: "api"}
	tree.AddPipelineService(flaky)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitForInt32(t, 2*time.Second, flaky.starts.Load, 3)

	// The API layer never restarted alongside the pipeline failures.
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("api service started %d times, want 1", got)
	}
}

func TestTreeDefaults(t *testing.T) {
	tree := NewSupervisorTree(logging.NewSlogLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5.0", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
	if tree.Root() == nil {
		t.Error("Root() returned nil")
	}
}
