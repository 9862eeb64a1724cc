package world

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/internal/imposter"
	"stagehand/internal/imposter/backend"
	"stagehand/internal/ports"
	"stagehand/internal/services"
)

type stopLog struct {
	mu    sync.Mutex
	names []string
}

func (l *stopLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *stopLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func newFactory() (*services.Factory, *ports.Allocator) {
	allocator := ports.New(ports.Options{})
	checker := health.NewChecker(health.Options{Timeout: time.Second, Interval: 5 * time.Millisecond})
	return services.NewFactory(allocator, checker, time.Second), allocator
}

func recorded(name string, log *stopLog, stopErr error) services.ConstructFunc {
	return func(int) (services.Handle, error) {
		return &services.HandleFuncs{
			StopFunc: func(context.Context) error {
				log.add(name)
				return stopErr
			},
		}, nil
	}
}

func TestDisposeReverseOrder(t *testing.T) {
	factory, allocator := newFactory()
	w := New(factory, nil, Options{Name: "order"})
	log := &stopLog{}
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		_, err := w.CreateService(ctx, name, recorded(name, log, nil), services.CreateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, allocator.Reserved())

	require.NoError(t, w.Dispose(ctx))
	assert.Equal(t, []string{"C", "B", "A"}, log.get())
	assert.Equal(t, 0, allocator.Reserved())
	assert.Equal(t, 0, w.Context().Len())
	assert.True(t, w.Disposed())
}

func TestDisposeIsIdempotent(t *testing.T) {
	factory, _ := newFactory()
	w := New(factory, nil, Options{})
	log := &stopLog{}
	ctx := context.Background()

	_, err := w.CreateService(ctx, "db", recorded("db", log, nil), services.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Dispose(ctx))
	require.NoError(t, w.Dispose(ctx))
	assert.Equal(t, []string{"db"}, log.get(), "second dispose stops nothing")
}

func TestDisposeCollectsFailures(t *testing.T) {
	factory, _ := newFactory()
	w := New(factory, nil, Options{})
	log := &stopLog{}
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := w.CreateService(ctx, "A", recorded("A", log, nil), services.CreateOptions{})
	require.NoError(t, err)
	_, err = w.CreateService(ctx, "B", recorded("B", log, boom), services.CreateOptions{})
	require.NoError(t, err)
	_, err = w.CreateService(ctx, "C", recorded("C", log, nil), services.CreateOptions{})
	require.NoError(t, err)

	err = w.Dispose(ctx)
	require.Error(t, err)
	assert.True(t, api.IsTeardown(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"C", "B", "A"}, log.get(), "every stop is attempted")

	failures := w.TeardownFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "B", failures[0].Name)
	assert.Equal(t, api.KindService, failures[0].Kind)
}

func TestDuplicateNameRejected(t *testing.T) {
	factory, allocator := newFactory()
	w := New(factory, nil, Options{})
	log := &stopLog{}
	ctx := context.Background()

	_, err := w.CreateService(ctx, "api", recorded("api", log, nil), services.CreateOptions{})
	require.NoError(t, err)

	var constructed atomic.Bool
	_, err = w.CreateService(ctx, "api", func(int) (services.Handle, error) {
		constructed.Store(true)
		return &services.HandleFuncs{}, nil
	}, services.CreateOptions{})
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	assert.False(t, constructed.Load())
	assert.Equal(t, 1, allocator.Reserved())

	_, err = w.CreateService(ctx, "", recorded("", log, nil), services.CreateOptions{})
	assert.True(t, api.IsConfiguration(err))
}

func TestFailedCreateFreesName(t *testing.T) {
	factory, _ := newFactory()
	w := New(factory, nil, Options{})
	ctx := context.Background()

	_, err := w.CreateService(ctx, "flaky", func(int) (services.Handle, error) {
		return &services.HandleFuncs{StartFunc: func(context.Context) error { return errors.New("no") }}, nil
	}, services.CreateOptions{})
	require.Error(t, err)
	assert.True(t, api.IsStartFailed(err))
	assert.Empty(t, w.Resources())

	_, err = w.CreateService(ctx, "flaky", recorded("flaky", &stopLog{}, nil), services.CreateOptions{})
	require.NoError(t, err)
}

func TestOperationsAfterDispose(t *testing.T) {
	factory, _ := newFactory()
	w := New(factory, nil, Options{})
	ctx := context.Background()
	require.NoError(t, w.Dispose(ctx))

	_, err := w.CreateService(ctx, "late", recorded("late", &stopLog{}, nil), services.CreateOptions{})
	assert.ErrorIs(t, err, api.ErrWorldDisposed)
}

func TestStopServiceEarly(t *testing.T) {
	factory, allocator := newFactory()
	w := New(factory, nil, Options{})
	log := &stopLog{}
	ctx := context.Background()

	_, err := w.CreateService(ctx, "A", recorded("A", log, nil), services.CreateOptions{})
	require.NoError(t, err)
	_, err = w.CreateService(ctx, "B", recorded("B", log, nil), services.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, w.StopService(ctx, "A"))
	assert.Equal(t, 1, allocator.Reserved())
	_, ok := w.Lookup("A")
	assert.False(t, ok)

	err = w.StopService(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Dispose(ctx))
	assert.Equal(t, []string{"A", "B"}, log.get())
}

func TestLookupFallsBackToParent(t *testing.T) {
	factory, _ := newFactory()
	ctx := context.Background()

	global := New(factory, nil, Options{Scope: ScopeGlobal})
	shared, err := global.CreateService(ctx, "shared", recorded("shared", &stopLog{}, nil), services.CreateOptions{})
	require.NoError(t, err)

	w1 := New(factory, nil, Options{Name: "one", Parent: global})
	w2 := New(factory, nil, Options{Name: "two", Parent: global})

	own, err := w1.CreateService(ctx, "own", recorded("own", &stopLog{}, nil), services.CreateOptions{})
	require.NoError(t, err)

	got, ok := w1.Service("shared")
	require.True(t, ok)
	assert.Same(t, shared, got)

	got, ok = w1.Service("own")
	require.True(t, ok)
	assert.Same(t, own, got)

	_, ok = w2.Lookup("own")
	assert.False(t, ok, "worlds are isolated from each other")
	assert.Equal(t, []string{"own"}, w1.Context().Names(), "context excludes the parent")

	vars := w1.Vars()
	assert.Equal(t, own.Location().URL(), vars["own_url"])
	assert.Contains(t, vars, "shared_port")

	require.NoError(t, w1.Dispose(ctx))
	assert.False(t, shared.Stopped(), "disposing a scenario world leaves the global world alone")
	require.NoError(t, global.Dispose(ctx))
}

func TestParallelWorldsGetDistinctPorts(t *testing.T) {
	factory, _ := newFactory()
	ctx := context.Background()

	const n = 8
	worlds := make([]*World, n)
	portsSeen := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		worlds[i] = New(factory, nil, Options{})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := worlds[i].CreateService(ctx, "api", recorded("api", &stopLog{}, nil), services.CreateOptions{})
			if assert.NoError(t, err) {
				portsSeen[i] = svc.Port()
			}
		}(i)
	}
	wg.Wait()

	unique := make(map[int]bool)
	for _, p := range portsSeen {
		unique[p] = true
	}
	assert.Len(t, unique, n)

	for _, w := range worlds {
		require.NoError(t, w.Dispose(ctx))
	}
}

func TestIdentityCredentialsCached(t *testing.T) {
	var calls atomic.Int32
	w := New(nil, nil, Options{Credentials: CredentialGeneratorFunc(func(id string) (Credentials, error) {
		calls.Add(1)
		return Credentials{Username: id}, nil
	})})

	first, err := w.IdentityCredentials()
	require.NoError(t, err)
	second, err := w.IdentityCredentials()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, w.ID(), first.Username)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUUIDCredentialsUnique(t *testing.T) {
	a, err := UUIDCredentials{}.Generate("")
	require.NoError(t, err)
	b, err := UUIDCredentials{Domain: "corp.test"}.Generate("")
	require.NoError(t, err)

	assert.NotEqual(t, a.Email, b.Email)
	assert.True(t, strings.HasSuffix(a.Email, "@example.test"))
	assert.True(t, strings.HasSuffix(b.Email, "@corp.test"))
	assert.True(t, strings.HasPrefix(a.Phone, "+1555"))
	assert.NotEmpty(t, a.Password)
}

func TestRegisterImposterOwnedByWorld(t *testing.T) {
	embedded, err := backend.StartEmbedded("127.0.0.1")
	require.NoError(t, err)
	defer embedded.Stop()

	allocator := ports.New(ports.Options{})
	manager, err := imposter.NewManager(imposter.Options{BackendURL: embedded.URL, Ports: allocator})
	require.NoError(t, err)
	factory := services.NewFactory(allocator, health.NewChecker(health.Options{}), time.Second)

	ctx := context.Background()
	w := New(factory, manager, Options{Name: "mocks"})

	imp, err := w.RegisterImposter(ctx, "payments", imposter.Definition{"protocol": "http"}, imposter.RegisterOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, embedded.Count())

	owner, ok := allocator.Owner(imp.Port())
	require.True(t, ok)
	assert.Equal(t, w.ID(), owner)

	got, ok := w.Imposter("payments")
	require.True(t, ok)
	assert.Same(t, imp, got)

	require.NoError(t, w.Dispose(ctx))
	assert.Equal(t, 0, embedded.Count())
	assert.Equal(t, 0, allocator.Reserved())
}

func TestRegisterImposterWithoutBackend(t *testing.T) {
	w := New(nil, nil, Options{})
	_, err := w.RegisterImposter(context.Background(), "x", imposter.Definition{}, imposter.RegisterOptions{})
	assert.True(t, api.IsConfiguration(err))
}
