package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/events/bus"
)

func testProfile() *domain.WorkerProfile {
	return &domain.WorkerProfile{ID: "coder", Name: "Coder", Kind: domain.KindServer}
}

func TestGetOrSpawnDedupsConcurrentCallers(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	var statusEvents int32
	_, err := eventBus.Subscribe(string(bus.EventWorkerStatus), func(ctx context.Context, e *bus.Event) error {
		atomic.AddInt32(&statusEvents, 1)
		return nil
	})
	require.NoError(t, err)

	p := New(eventBus, logger.Default())
	profile := testProfile()

	var spawnCount int32
	spawn := func(ctx context.Context, profile *domain.WorkerProfile, opts SpawnOptions) (*domain.WorkerInstance, error) {
		atomic.AddInt32(&spawnCount, 1)
		time.Sleep(20 * time.Millisecond)
		return &domain.WorkerInstance{
			ID:      profile.ID,
			Profile: profile,
			Status:  domain.StatusReady,
		}, nil
	}

	const callers = 10
	results := make([]*domain.WorkerInstance, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			instance, err := p.GetOrSpawn(context.Background(), profile, SpawnOptions{}, nil, spawn)
			require.NoError(t, err)
			results[idx] = instance
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&spawnCount), "spawn function should run exactly once")
	for _, r := range results {
		assert.Same(t, results[0], r, "all callers should receive the same instance")
	}

	time.Sleep(50 * time.Millisecond) // let async handler delivery settle
	assert.EqualValues(t, 1, atomic.LoadInt32(&statusEvents))
}

func TestGetOrSpawnReturnsExistingReadyWorker(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	p := New(eventBus, logger.Default())
	profile := testProfile()

	existing := &domain.WorkerInstance{ID: profile.ID, Profile: profile, Status: domain.StatusReady}
	p.Register(existing)

	spawnCalled := false
	spawn := func(ctx context.Context, profile *domain.WorkerProfile, opts SpawnOptions) (*domain.WorkerInstance, error) {
		spawnCalled = true
		return nil, nil
	}

	instance, err := p.GetOrSpawn(context.Background(), profile, SpawnOptions{}, nil, spawn)
	require.NoError(t, err)
	assert.Same(t, existing, instance)
	assert.False(t, spawnCalled)
}

func TestUpdateStatusToErrorPublishesErrorEvent(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	var errorEvents int32
	_, err := eventBus.Subscribe(string(bus.EventError), func(ctx context.Context, e *bus.Event) error {
		atomic.AddInt32(&errorEvents, 1)
		return nil
	})
	require.NoError(t, err)

	p := New(eventBus, logger.Default())
	profile := testProfile()
	p.Register(&domain.WorkerInstance{ID: profile.ID, Profile: profile, Status: domain.StatusReady})

	p.UpdateStatus(profile.ID, domain.StatusError, "boom")

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&errorEvents))

	instance, ok := p.Get(profile.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, instance.Status)
	assert.Equal(t, "boom", instance.Error)
}

func TestUnregisterClearsOwnership(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	p := New(eventBus, logger.Default())
	profile := testProfile()
	p.Register(&domain.WorkerInstance{ID: profile.ID, Profile: profile, Status: domain.StatusReady})
	p.TrackOwnership("session-1", profile.ID)

	p.Unregister(profile.ID)

	_, ok := p.Get(profile.ID)
	assert.False(t, ok)
	assert.Empty(t, p.OwnedWorkers("session-1"))
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	p := New(eventBus, logger.Default())
	profile := testProfile()
	stale := time.Now().Add(-time.Hour)
	p.Register(&domain.WorkerInstance{ID: profile.ID, Profile: profile, Status: domain.StatusReady, LastActivity: stale})

	p.Touch(profile.ID)

	instance, ok := p.Get(profile.ID)
	require.True(t, ok)
	assert.True(t, instance.LastActivity.After(stale))
}

func TestTouchIgnoresUnknownWorker(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	p := New(eventBus, logger.Default())
	p.Touch("does-not-exist")
}

func TestStopAllInvokesShutdownForEveryWorker(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	p := New(eventBus, logger.Default())

	var shutdowns int32
	for i := 0; i < 3; i++ {
		profile := &domain.WorkerProfile{ID: "worker-" + string(rune('a'+i)), Kind: domain.KindServer}
		p.Register(&domain.WorkerInstance{
			ID:      profile.ID,
			Profile: profile,
			Status:  domain.StatusReady,
			Shutdown: func() error {
				atomic.AddInt32(&shutdowns, 1)
				return nil
			},
		})
	}

	p.StopAll(context.Background())
	assert.EqualValues(t, 3, atomic.LoadInt32(&shutdowns))
	assert.Empty(t, p.List())
}
