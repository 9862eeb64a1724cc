// Package mcpserver exposes stagehand's World API over the Model Context
// Protocol so that automation clients and AI assistants can drive
// environments without the CLI runner.
//
// The server speaks MCP over stdio and registers these tools:
//
//   - list_scenarios: scenarios loaded at startup
//   - environment_provision: provision a named scenario or an inline YAML
//     environment and hand its World out
//   - environment_status: live runs with their state history and resources
//   - imposter_requests: requests captured by an imposter of a World
//   - environment_teardown: dispose a World
//
// A World handed out by environment_provision stays alive until
// environment_teardown names it or the server shuts down.
package mcpserver
