package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/api"
	"stagehand/internal/config"
	"stagehand/internal/environment"
	"stagehand/internal/services/container"
	"stagehand/internal/services/httpstub"
	"stagehand/internal/services/process"
)

func TestNewCatalog(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)
	assert.True(t, catalog.Has(process.Kind))
	assert.True(t, catalog.Has(httpstub.Kind))
	assert.True(t, catalog.Has(container.Kind))
	assert.False(t, catalog.Has("docker"))
}

func TestInitializeServices(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*config.Config)
		expectError   func(error) bool
		checkServices func(*testing.T, *Services)
	}{
		{
			name: "embedded backend by default",
			checkServices: func(t *testing.T, s *Services) {
				require.NotNil(t, s.Backend)
				require.NotNil(t, s.Imposters)
				assert.Equal(t, s.Backend.URL, s.Imposters.BackendURL())
				assert.NoError(t, s.CheckBackend(context.Background()))
			},
		},
		{
			name:   "backend disabled",
			modify: func(c *config.Config) { c.Backend.Disabled = true },
			checkServices: func(t *testing.T, s *Services) {
				assert.Nil(t, s.Backend)
				assert.Nil(t, s.Imposters)
				assert.NoError(t, s.CheckBackend(context.Background()))
			},
		},
		{
			name:   "remote backend is not started locally",
			modify: func(c *config.Config) { c.Backend.URL = "http://127.0.0.1:1"; c.Backend.RetryMax = 1 },
			checkServices: func(t *testing.T, s *Services) {
				assert.Nil(t, s.Backend)
				require.NotNil(t, s.Imposters)
				assert.Error(t, s.CheckBackend(context.Background()))
			},
		},
		{
			name:        "invalid teardown policy",
			modify:      func(c *config.Config) { c.Teardown.Policy = "ignore" },
			expectError: api.IsConfiguration,
		},
		{
			name: "unknown global service kind",
			modify: func(c *config.Config) {
				c.Global = environment.Environment{{Name: "db", Type: "service", Location: "docker"}}
			},
			expectError: api.IsConfiguration,
		},
		{
			name:        "malformed backend url",
			modify:      func(c *config.Config) { c.Backend.URL = "not a url" },
			expectError: api.IsConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.GetDefaultConfig()
			if tt.modify != nil {
				tt.modify(&settings)
			}

			s, err := InitializeServices(settings)
			if tt.expectError != nil {
				require.Error(t, err)
				assert.True(t, tt.expectError(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close(context.Background()) })

			assert.NotNil(t, s.Orchestrator)
			assert.Same(t, s.Global, s.Orchestrator.Global())
			if tt.checkServices != nil {
				tt.checkServices(t, s)
			}
		})
	}
}
