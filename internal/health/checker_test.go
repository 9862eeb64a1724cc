package health

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
)

func readyAfter(n int32, calls *atomic.Int32) Probe {
	return func(ctx context.Context) (bool, error) {
		return calls.Add(1) >= n, nil
	}
}

func TestAwaitReadyAfterSecondProbe(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(Options{})

	result := c.Await(context.Background(), readyAfter(2, &calls), Options{
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	})

	assert.Equal(t, Ready, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, result.Err("health check", "web"))
}

func TestAwaitTimesOutNeverEarly(t *testing.T) {
	const timeout = 200 * time.Millisecond
	probeErr := errors.New("connection refused")
	c := NewChecker(Options{})

	start := time.Now()
	result := c.Await(context.Background(), func(context.Context) (bool, error) {
		return false, probeErr
	}, Options{
		Timeout:       timeout,
		Interval:      20 * time.Millisecond,
		BackoffFactor: 2,
		MaxInterval:   50 * time.Millisecond,
		ProbeTimeout:  50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, result.Outcome)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.GreaterOrEqual(t, result.Elapsed, timeout)
	assert.Less(t, elapsed, timeout+50*time.Millisecond+250*time.Millisecond)
	assert.ErrorIs(t, result.LastErr, probeErr)
	assert.Greater(t, result.Attempts, 2)

	err := result.Err("health check", "web")
	require.Error(t, err)
	assert.True(t, api.IsTimedOut(err))
}

func TestAwaitBoundsHangingProbe(t *testing.T) {
	const timeout = 150 * time.Millisecond
	const probeTimeout = 50 * time.Millisecond
	c := NewChecker(Options{})

	start := time.Now()
	result := c.Await(context.Background(), func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, Options{Timeout: timeout, Interval: 10 * time.Millisecond, ProbeTimeout: probeTimeout})
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, result.Outcome)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+probeTimeout+250*time.Millisecond)
	assert.ErrorIs(t, result.LastErr, context.DeadlineExceeded)
}

func TestAwaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewChecker(Options{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := c.Await(ctx, func(context.Context) (bool, error) {
		return false, nil
	}, Options{Timeout: 5 * time.Second, Interval: 10 * time.Millisecond})

	assert.Equal(t, Canceled, result.Outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, result.Err("health check", "web"), context.Canceled)
	assert.False(t, api.IsTimedOut(result.Err("health check", "web")))
}

func TestAwaitConcurrentWaitsAreIndependent(t *testing.T) {
	const services = 5
	const readyAt = 100 * time.Millisecond
	c := NewChecker(Options{Interval: 10 * time.Millisecond, Timeout: 2 * time.Second})

	start := time.Now()
	var wg sync.WaitGroup
	results := make([]Result, services)
	for i := 0; i < services; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			begin := time.Now()
			results[i] = c.Await(context.Background(), func(context.Context) (bool, error) {
				return time.Since(begin) >= readyAt, nil
			}, Options{})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, Ready, r.Outcome)
	}
	assert.Less(t, time.Since(start), services*readyAt, "waits must overlap rather than serialize")
}

func TestBackOffSchedule(t *testing.T) {
	opts := Options{
		Timeout:       time.Second,
		Interval:      10 * time.Millisecond,
		BackoffFactor: 2,
		MaxInterval:   50 * time.Millisecond,
	}.merge(DefaultOptions())

	b := newBackOff(opts)
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.NextBackOff())
	}

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, got)
}

func TestOptionsMerge(t *testing.T) {
	defaults := DefaultOptions()

	tests := []struct {
		name   string
		input  Options
		verify func(t *testing.T, o Options)
	}{
		{
			name:  "zero takes defaults",
			input: Options{},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, defaults, o)
			},
		},
		{
			name:  "factor below one is clamped",
			input: Options{BackoffFactor: 0.5},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 1.0, o.BackoffFactor)
			},
		},
		{
			name:  "probe timeout never exceeds timeout",
			input: Options{Timeout: 100 * time.Millisecond, ProbeTimeout: time.Second},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 100*time.Millisecond, o.ProbeTimeout)
			},
		},
		{
			name:  "max interval at least interval",
			input: Options{Interval: 5 * time.Second, MaxInterval: time.Second},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 5*time.Second, o.MaxInterval)
			},
		},
		{
			name:  "defaulted attempt timeout is clamped to a short timeout",
			input: Options{Timeout: 100 * time.Millisecond},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 100*time.Millisecond, o.ProbeTimeout)
			},
		},
		{
			name:  "defaulted max interval is raised to a long interval",
			input: Options{Interval: 5 * time.Second},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 5*time.Second, o.MaxInterval)
			},
		},
		{
			name:  "matches WithDefaults when nothing needs clamping",
			input: Options{Timeout: time.Minute, Interval: 50 * time.Millisecond},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, Options{Timeout: time.Minute, Interval: 50 * time.Millisecond}.WithDefaults(defaults), o)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.verify(t, tt.input.merge(defaults))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "timed out", TimedOut.String())
	assert.Equal(t, "canceled", Canceled.String())
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{Timeout: time.Second}.WithDefaults(Options{Timeout: time.Minute, Interval: time.Millisecond})
	assert.Equal(t, time.Second, o.Timeout)
	assert.Equal(t, time.Millisecond, o.Interval)
	assert.Zero(t, o.BackoffFactor)
}
