// Package logging provides the structured logger used throughout stagehand.
//
// It is a thin layer over log/slog that tags every entry with a subsystem so
// that output from parallel scenarios can be filtered by component:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Orchestrator", "Scenario %s is ready", name)
//	logging.Debug("PortAllocator", "Reserved port %d for %s", port, owner)
//	logging.Warn("World", "Teardown of %s took %s", name, elapsed)
//	logging.Error("ImposterManager", err, "Failed to deregister imposter %s", name)
//
// # Subsystems
//
//   - PortAllocator, HealthChecker, ServiceFactory, Docker: resource provisioning
//   - ImposterManager, Backend: the virtualization backend client and server
//   - World, Orchestrator: scenario scoped lifecycle
//   - Runner, MCPServer, ScenarioWatcher, Config: surfaces around the core
//
// # Output
//
// InitForCLI writes slog's text format, InitForJSON writes one JSON object per
// line for CI log collectors. Before either is called only warnings and errors
// are printed, to stderr.
//
// Hooks registered with AddHook see every entry that passes the level filter;
// the runner uses this to attach harness logs to scenario reports.
package logging
