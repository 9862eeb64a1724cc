package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/internal/world"
	"stagehand/pkg/logging"
)

type resourceView struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type worldView struct {
	WorldID     string                    `json:"world_id"`
	Scenario    string                    `json:"scenario"`
	State       orchestrator.State        `json:"state"`
	Started     time.Time                 `json:"started"`
	Resources   []resourceView            `json:"resources,omitempty"`
	Credentials *world.Credentials        `json:"credentials,omitempty"`
	History     []orchestrator.Transition `json:"history,omitempty"`
	Teardown    []string                  `json:"teardown_failures,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

func viewOf(run *orchestrator.Run, withCredentials bool) worldView {
	v := worldView{
		Scenario: run.Scenario(),
		State:    run.State(),
		Started:  run.Started(),
		History:  run.History(),
	}
	if err := run.Err(); err != nil {
		v.Error = err.Error()
	}
	for _, f := range run.TeardownFailures() {
		v.Teardown = append(v.Teardown, f.Error())
	}

	w := run.World()
	if w == nil {
		return v
	}
	v.WorldID = w.ID()
	v.Resources = resourcesOf(w)
	if withCredentials {
		if creds, err := w.IdentityCredentials(); err == nil {
			v.Credentials = &creds
		}
	}
	return v
}

func resourcesOf(w *world.World) []resourceView {
	ctx := w.Context()
	out := make([]resourceView, 0, ctx.Len())
	for _, name := range ctx.Names() {
		r, _ := ctx.Get(name)
		out = append(out, resourceView{Name: name, Kind: string(r.Kind()), URL: r.Location().URL()})
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleListScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type scenarioView struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		Resources   []string `json:"resources"`
	}

	names := s.scenarioNames()
	out := make([]scenarioView, 0, len(names))
	for _, name := range names {
		sc, _ := s.scenario(name)
		out = append(out, scenarioView{
			Name:        sc.Name,
			Description: sc.Description,
			Tags:        sc.Tags,
			Resources:   sc.Environment.Names(),
		})
	}
	return jsonResult(out)
}

// resolveScenario picks the named scenario, or parses the inline definition.
func (s *Server) resolveScenario(request mcp.CallToolRequest) (environment.Scenario, error) {
	args := request.GetArguments()
	name, _ := args["scenario"].(string)
	definition, _ := args["definition"].(string)

	switch {
	case name != "":
		sc, ok := s.scenario(name)
		if !ok {
			return environment.Scenario{}, fmt.Errorf("unknown scenario %q", name)
		}
		return sc, nil
	case strings.TrimSpace(definition) != "":
		return environment.ParseScenario(strings.NewReader(definition), "mcp")
	default:
		return environment.Scenario{}, fmt.Errorf("either scenario or definition is required")
	}
}

func (s *Server) handleProvision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc, err := s.resolveScenario(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.orch.Provision(ctx, sc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Provisioning %s failed: %v", sc.Name, err)), nil
	}
	if err := s.orch.Begin(run); err != nil {
		_ = s.orch.Teardown(ctx, run)
		return mcp.NewToolResultError(err.Error()), nil
	}

	logging.Info(subsystem, "Handed out World %s for scenario %s", run.World().ID(), sc.Name)
	return jsonResult(viewOf(run, true))
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if id, _ := args["world_id"].(string); id != "" {
		run, ok := s.orch.Run(id)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("World not found: %s", id)), nil
		}
		return jsonResult(viewOf(run, false))
	}

	runs := s.orch.Runs()
	out := make([]worldView, 0, len(runs))
	for _, run := range runs {
		out = append(out, viewOf(run, false))
	}
	return jsonResult(out)
}

func (s *Server) world(id string) (*world.World, bool) {
	if id == GlobalWorldID {
		g := s.orch.Global()
		return g, g != nil
	}
	run, ok := s.orch.Run(id)
	if !ok || run.World() == nil {
		return nil, false
	}
	return run.World(), true
}

func (s *Server) handleImposterRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("world_id")
	if err != nil {
		return mcp.NewToolResultError("world_id argument is required"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}

	w, ok := s.world(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("World not found: %s", id)), nil
	}
	imp, ok := w.Imposter(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Imposter not found: %s", name)), nil
	}

	reqs, err := imp.Requests(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read requests of %s: %v", name, err)), nil
	}
	return jsonResult(reqs)
}

func (s *Server) handleTeardown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("world_id")
	if err != nil {
		return mcp.NewToolResultError("world_id argument is required"), nil
	}
	if id == GlobalWorldID {
		return mcp.NewToolResultError("the global World lives as long as the server"), nil
	}

	run, ok := s.orch.Run(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("World not found: %s", id)), nil
	}
	if err := s.orch.Teardown(ctx, run); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Teardown of %s failed: %v", id, err)), nil
	}
	return jsonResult(viewOf(run, false))
}
