package bdd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cucumber/godog"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/api"
	"stagehand/internal/environment"
	"stagehand/internal/health"
	"stagehand/internal/orchestrator"
	"stagehand/internal/ports"
	"stagehand/internal/services"
	"stagehand/internal/services/httpstub"
)

const feature = `Feature: greeting service

  @env:greeter
  Scenario: the greeter answers
    Then "greeter" answers "hello"

  Scenario: no environment
    Then there is no "greeter"
`

func TestHooksAroundGodogScenarios(t *testing.T) {
	allocator := ports.New(ports.Options{})
	catalog := services.NewCatalog()
	require.NoError(t, httpstub.Register(catalog))
	orch := orchestrator.New(orchestrator.Deps{
		Factory: services.NewFactory(allocator, health.NewChecker(health.Options{Timeout: 5 * time.Second}), time.Second),
		Catalog: catalog,
	}, orchestrator.Config{})

	scenarios := []environment.Scenario{{
		Name: "greeter",
		Environment: environment.Environment{{
			Name: "greeter", Type: "service", Location: httpstub.Kind,
			Config: map[string]interface{}{"default": map[string]interface{}{"body": "hello"}},
		}},
	}}
	hooks := NewHooks(orch, TagResolver(scenarios))

	var seenPorts []int
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			hooks.Register(sc)
			sc.Step(`^"([^"]*)" answers "([^"]*)"$`, func(ctx context.Context, name, want string) error {
				w, ok := WorldFrom(ctx)
				if !ok {
					return ErrNoWorld
				}
				svc, ok := w.Service(name)
				if !ok {
					return fmt.Errorf("no service %s", name)
				}
				seenPorts = append(seenPorts, svc.Port())
				resp, err := http.Get(svc.Location().URL())
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				if string(body) != want {
					return fmt.Errorf("got %q", body)
				}
				return nil
			})
			sc.Step(`^there is no "([^"]*)"$`, func(ctx context.Context, name string) error {
				w, ok := WorldFrom(ctx)
				if !ok {
					return ErrNoWorld
				}
				if _, found := w.Lookup(name); found {
					return fmt.Errorf("unexpected resource %s", name)
				}
				return nil
			})
		},
		Options: &godog.Options{
			Format:          "progress",
			Output:          &bytes.Buffer{},
			FeatureContents: []godog.Feature{{Name: "greeting.feature", Contents: []byte(feature)}},
			Strict:          true,
		},
	}

	require.Equal(t, 0, suite.Run())
	assert.Len(t, seenPorts, 1)
	assert.Equal(t, 0, hooks.Active())
	assert.Equal(t, 0, allocator.Reserved(), "every world is torn down")
}

func TestTagResolver(t *testing.T) {
	resolve := TagResolver([]environment.Scenario{
		{Name: "db", Timeout: time.Second, Environment: environment.Environment{{Name: "db", Type: "service", Location: "process"}}},
		{Name: "mocks", Timeout: 3 * time.Second, Environment: environment.Environment{{Name: "pay", Type: "imposter", Location: "pay.json"}}},
	})

	env, err := resolve(&godog.Scenario{Name: "both", Tags: []*messages.PickleTag{{Name: "@env:db"}, {Name: "@smoke"}, {Name: "@env:mocks"}}})
	require.NoError(t, err)
	assert.Equal(t, "both", env.Name)
	assert.Equal(t, []string{"db", "pay"}, env.Environment.Names())
	assert.Equal(t, 3*time.Second, env.Timeout)

	env, err = resolve(&godog.Scenario{Name: "none"})
	require.NoError(t, err)
	assert.Empty(t, env.Environment)

	_, err = resolve(&godog.Scenario{Name: "bad", Tags: []*messages.PickleTag{{Name: "@env:missing"}}})
	assert.True(t, api.IsConfiguration(err))
}

type failingLifecycle struct {
	teardowns int
}

func (f *failingLifecycle) Provision(context.Context, environment.Scenario) (*orchestrator.Run, error) {
	return nil, &api.ProvisioningError{Scenario: "x", Cause: fmt.Errorf("backend down")}
}

func (f *failingLifecycle) Begin(*orchestrator.Run) error { return nil }

func (f *failingLifecycle) Teardown(context.Context, *orchestrator.Run) error {
	f.teardowns++
	return nil
}

func TestBeforeSurfacesProvisioningError(t *testing.T) {
	lc := &failingLifecycle{}
	hooks := NewHooks(lc, nil)

	ctx, err := hooks.before(context.Background(), &godog.Scenario{Id: "1", Name: "x"})
	require.Error(t, err)
	assert.True(t, api.IsProvisioning(err))
	_, ok := WorldFrom(ctx)
	assert.False(t, ok)

	_, err = hooks.after(ctx, &godog.Scenario{Id: "1", Name: "x"}, err)
	require.NoError(t, err)
	assert.Equal(t, 0, lc.teardowns, "nothing to tear down")
}
