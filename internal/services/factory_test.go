package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/internal/ports"
)

func newTestFactory() (*Factory, *ports.Allocator) {
	allocator := ports.New(ports.Options{})
	checker := health.NewChecker(health.Options{
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	})
	return NewFactory(allocator, checker, time.Second), allocator
}

type recordingHandle struct {
	HandleFuncs
	probes atomic.Int32
	stops  atomic.Int32
}

func newRecordingHandle(readyAfter int32, startErr error) *recordingHandle {
	h := &recordingHandle{}
	h.StartFunc = func(context.Context) error { return startErr }
	h.ProbeFunc = func(context.Context) (bool, error) {
		return h.probes.Add(1) >= readyAfter, nil
	}
	h.StopFunc = func(context.Context) error {
		h.stops.Add(1)
		return nil
	}
	return h
}

func TestFactoryCreateReady(t *testing.T) {
	factory, allocator := newTestFactory()
	handle := newRecordingHandle(2, nil)

	var transitions []ServiceState
	var mu sync.Mutex
	svc, err := factory.Create(context.Background(), "web", func(port int) (Handle, error) {
		return handle, nil
	}, CreateOptions{
		Owner: "world-1",
		OnStateChange: func(_ string, _, newState ServiceState, _ HealthStatus, _ error) {
			mu.Lock()
			transitions = append(transitions, newState)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), handle.probes.Load(), "ready only after the second probe")
	assert.Equal(t, StateRunning, svc.State())
	assert.Equal(t, HealthHealthy, svc.Health())
	assert.Equal(t, api.KindService, svc.Kind())
	assert.Equal(t, svc.Port(), svc.Location().Port)
	assert.Equal(t, "127.0.0.1", svc.Location().Hostname)

	owner, ok := allocator.Owner(svc.Port())
	require.True(t, ok)
	assert.Equal(t, "world-1", owner)

	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()), "second stop is a no-op")
	assert.Equal(t, int32(1), handle.stops.Load())
	assert.Equal(t, 0, allocator.Reserved())
	assert.Equal(t, StateStopped, svc.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ServiceState{StateStarting, StateWaiting, StateRunning, StateStopping, StateStopped}, transitions)
}

func TestFactoryStartFailureReleasesPortWithoutProbing(t *testing.T) {
	factory, allocator := newTestFactory()
	startErr := errors.New("exec: no such file")
	handle := newRecordingHandle(1, startErr)

	var port int
	svc, err := factory.Create(context.Background(), "web", func(p int) (Handle, error) {
		port = p
		return handle, nil
	}, CreateOptions{})

	require.Error(t, err)
	assert.Nil(t, svc)
	assert.True(t, api.IsStartFailed(err))
	assert.ErrorIs(t, err, startErr)
	assert.Equal(t, int32(0), handle.probes.Load(), "no probe after a failed start")
	assert.Equal(t, int32(1), handle.stops.Load(), "best-effort stop after a failed start")

	_, reserved := allocator.Owner(port)
	assert.False(t, reserved)
	assert.Equal(t, 0, allocator.Reserved())
}

func TestFactoryConstructFailure(t *testing.T) {
	factory, allocator := newTestFactory()
	buildErr := errors.New("bad config")

	_, err := factory.Create(context.Background(), "web", func(int) (Handle, error) {
		return nil, buildErr
	}, CreateOptions{})

	require.Error(t, err)
	assert.True(t, api.IsStartFailed(err))
	assert.ErrorIs(t, err, buildErr)
	assert.Equal(t, 0, allocator.Reserved())
}

func TestFactoryUnhealthyStopsAndReleases(t *testing.T) {
	factory, allocator := newTestFactory()
	handle := newRecordingHandle(1000, nil)

	start := time.Now()
	_, err := factory.Create(context.Background(), "web", func(int) (Handle, error) {
		return handle, nil
	}, CreateOptions{Health: health.Options{Timeout: 100 * time.Millisecond, Interval: 10 * time.Millisecond}})

	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, api.IsServiceUnhealthy(err))
	assert.True(t, api.IsTimedOut(err))

	var unhealthy *api.ServiceUnhealthyError
	require.True(t, errors.As(err, &unhealthy))
	assert.Equal(t, "web", unhealthy.Name)
	assert.Greater(t, unhealthy.Attempts, 1)

	assert.Equal(t, int32(1), handle.stops.Load())
	assert.Equal(t, 0, allocator.Reserved())
}

func TestFactoryCanceledHealthWait(t *testing.T) {
	factory, allocator := newTestFactory()
	handle := newRecordingHandle(1000, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := factory.Create(ctx, "web", func(int) (Handle, error) {
		return handle, nil
	}, CreateOptions{})

	require.Error(t, err)
	assert.True(t, api.IsServiceUnhealthy(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), handle.stops.Load(), "cleanup runs even though ctx is canceled")
	assert.Equal(t, 0, allocator.Reserved())
}

type optionedHandle struct {
	HandleFuncs
	opts health.Options
}

func (h *optionedHandle) HealthOptions() health.Options { return h.opts }

func TestFactoryHandleHealthOptions(t *testing.T) {
	factory, _ := newTestFactory()
	h := &optionedHandle{opts: health.Options{Timeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}}
	h.ProbeFunc = func(context.Context) (bool, error) { return false, nil }

	start := time.Now()
	_, err := factory.Create(context.Background(), "slow", func(int) (Handle, error) { return h, nil }, CreateOptions{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "handle timeout replaces the checker default")
}

func TestServiceStopErrorStillReleasesPort(t *testing.T) {
	factory, allocator := newTestFactory()
	stopErr := errors.New("kill failed")
	h := &HandleFuncs{StopFunc: func(context.Context) error { return stopErr }}

	svc, err := factory.Create(context.Background(), "web", func(int) (Handle, error) { return h, nil }, CreateOptions{})
	require.NoError(t, err)

	err = svc.Stop(context.Background())
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, StateFailed, svc.State())
	assert.Equal(t, 0, allocator.Reserved())
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestFactoryParallelIdenticalServicesGetDistinctPorts(t *testing.T) {
	factory, _ := newTestFactory()

	const n = 8
	var wg sync.WaitGroup
	svcs := make([]*Service, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := factory.Create(context.Background(), "web", func(int) (Handle, error) {
				return newRecordingHandle(2, nil), nil
			}, CreateOptions{Owner: "scenario-" + string(rune('a'+i))})
			if assert.NoError(t, err) {
				svcs[i] = svc
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, svc := range svcs {
		require.NotNil(t, svc)
		assert.False(t, seen[svc.Port()], "port %d handed out twice", svc.Port())
		seen[svc.Port()] = true
		assert.Equal(t, StateRunning, svc.State())
	}
}
