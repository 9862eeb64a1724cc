package mcpserver

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/pkg/logging"
)

const subsystem = "MCPServer"

// GlobalWorldID addresses the process-wide World in tool arguments.
const GlobalWorldID = "global"

// Server is the MCP control surface of an orchestrator.
type Server struct {
	orch      *orchestrator.Orchestrator
	mcpServer *server.MCPServer

	mu        sync.RWMutex
	scenarios map[string]environment.Scenario
}

// New creates a server over orch. scenarios are the named environments
// environment_provision can refer to.
func New(orch *orchestrator.Orchestrator, scenarios []environment.Scenario, version string) *Server {
	mcpServer := server.NewMCPServer(
		"stagehand",
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		orch:      orch,
		mcpServer: mcpServer,
	}
	s.SetScenarios(scenarios)

	s.registerTools()
	return s
}

// SetScenarios replaces the named scenarios. Worlds already provisioned are
// not affected.
func (s *Server) SetScenarios(scenarios []environment.Scenario) {
	byName := make(map[string]environment.Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}

	s.mu.Lock()
	s.scenarios = byName
	s.mu.Unlock()
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Start serves MCP over stdin/stdout until the client disconnects, then
// tears down every World that is still alive.
func (s *Server) Start(ctx context.Context) error {
	logging.Info(subsystem, "Serving %d scenario(s) over stdio", len(s.scenarioNames()))
	err := server.ServeStdio(s.mcpServer)
	if serr := s.orch.Shutdown(context.WithoutCancel(ctx)); serr != nil {
		logging.Error(subsystem, serr, "Shutdown left resources behind")
	}
	return err
}

func (s *Server) scenario(name string) (environment.Scenario, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[name]
	return sc, ok
}

func (s *Server) scenarioNames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.scenarios))
	for name := range s.scenarios {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (s *Server) registerTools() {
	listScenariosTool := mcp.NewTool("list_scenarios",
		mcp.WithDescription("List the scenarios that can be provisioned by name"),
	)
	s.mcpServer.AddTool(listScenariosTool, s.handleListScenarios)

	provisionTool := mcp.NewTool("environment_provision",
		mcp.WithDescription("Provision a scenario environment and return its World ID and resource URLs"),
		mcp.WithString("scenario",
			mcp.Description("Name of a loaded scenario"),
		),
		mcp.WithString("definition",
			mcp.Description("Inline scenario YAML; used when scenario is not given"),
		),
	)
	s.mcpServer.AddTool(provisionTool, s.handleProvision)

	statusTool := mcp.NewTool("environment_status",
		mcp.WithDescription("Show live Worlds with their lifecycle history and resources"),
		mcp.WithString("world_id",
			mcp.Description("Restrict the output to one World"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)

	requestsTool := mcp.NewTool("imposter_requests",
		mcp.WithDescription("List the requests an imposter has captured"),
		mcp.WithString("world_id",
			mcp.Required(),
			mcp.Description("World that can see the imposter (\"global\" for the shared World)"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Logical name of the imposter"),
		),
	)
	s.mcpServer.AddTool(requestsTool, s.handleImposterRequests)

	teardownTool := mcp.NewTool("environment_teardown",
		mcp.WithDescription("Dispose a World and every resource it owns"),
		mcp.WithString("world_id",
			mcp.Required(),
			mcp.Description("World to dispose"),
		),
	)
	s.mcpServer.AddTool(teardownTool, s.handleTeardown)
}
