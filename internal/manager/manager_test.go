package manager_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/flowforge/flowexec/internal/flow"
	"github.com/flowforge/flowexec/internal/manager"
	"github.com/flowforge/flowexec/internal/nodes"
)

func staticFlow(id string) flow.Definition {
	return flow.Definition{
		ID: id,
		Nodes: []flow.NodeDefinition{
			{ID: "a", Type: "static_data", Config: map[string]interface{}{
				"rows":    []interface{}{map[string]interface{}{"x": int64(1)}},
				"columns": []interface{}{"x"},
			}},
		},
	}
}

func newTestManager(t *testing.T, cfg manager.Config, build manager.Builder) *manager.Manager {
	t.Helper()
	mgr, err := manager.New(cfg, build, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error constructing manager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr
}

func TestAcquireBuildsOnceAndCachesAfter(t *testing.T) {
	registry := nodes.NewRegistry()
	builds := 0
	build := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		builds++
		return flow.New(staticFlow(apiID), registry, &nodes.Dependencies{})
	}
	cfg := manager.DefaultConfig()
	mgr := newTestManager(t, cfg, build)

	ctx := context.Background()
	if _, err := mgr.Acquire(ctx, "api-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Acquire(ctx, "api-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 1 {
		t.Fatalf("expected exactly 1 build for repeated acquires of the same api, got %d", builds)
	}
}

func TestAcquireCoalescesConcurrentBuilds(t *testing.T) {
	registry := nodes.NewRegistry()
	builds := 0
	started := make(chan struct{})
	release := make(chan struct{})
	build := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		builds++
		close(started)
		<-release
		return flow.New(staticFlow(apiID), registry, &nodes.Dependencies{})
	}
	cfg := manager.DefaultConfig()
	mgr := newTestManager(t, cfg, build)

	ctx := context.Background()
	done := make(chan error, 2)
	go func() { _, err := mgr.Acquire(ctx, "api-shared"); done <- err }()
	<-started
	go func() { _, err := mgr.Acquire(ctx, "api-shared"); done <- err }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if builds != 1 {
		t.Fatalf("expected exactly 1 build for concurrent acquires of the same api, got %d", builds)
	}
}

func TestEvictsLeastRecentlyUsedWhenOverCapacity(t *testing.T) {
	registry := nodes.NewRegistry()
	build := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		return flow.New(staticFlow(apiID), registry, &nodes.Dependencies{})
	}
	cfg := manager.DefaultConfig()
	cfg.MaxActiveWorkers = 2
	mgr := newTestManager(t, cfg, build)

	ctx := context.Background()
	for _, id := range []string{"api-1", "api-2", "api-3"} {
		if _, err := mgr.Acquire(ctx, id); err != nil {
			t.Fatalf("unexpected error acquiring %s: %v", id, err)
		}
	}

	if _, ok := mgr.GetEntryInfo("api-1"); ok {
		t.Fatal("expected api-1 to have been evicted once the cache exceeded capacity")
	}
	if _, ok := mgr.GetEntryInfo("api-3"); !ok {
		t.Fatal("expected the most recently acquired api to remain cached")
	}
}

func TestForceRemoveDropsAnEntry(t *testing.T) {
	registry := nodes.NewRegistry()
	build := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		return flow.New(staticFlow(apiID), registry, &nodes.Dependencies{})
	}
	mgr := newTestManager(t, manager.DefaultConfig(), build)

	ctx := context.Background()
	if _, err := mgr.Acquire(ctx, "api-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.ForceRemove("api-1")
	if _, ok := mgr.GetEntryInfo("api-1"); ok {
		t.Fatal("expected api-1 to be gone after ForceRemove")
	}
}

func TestAcquirePropagatesBuildError(t *testing.T) {
	build := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		return nil, fmt.Errorf("no such published api")
	}
	mgr := newTestManager(t, manager.DefaultConfig(), build)

	if _, err := mgr.Acquire(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for a build failure")
	}
}
