// Package process implements the "process" service kind: a real subprocess
// told which port to bind through its arguments or environment.
//
// Configuration (the `config` block of a declaration):
//
//	command: ./bin/web
//	args: ["--port", "{{ port }}"]
//	env: {UPSTREAM: "{{ payments_url }}"}
//	dir: ./services/web
//	health: {type: http, path: /healthz, timeout: 20s}
//	shutdownTimeout: 5s
//
// PORT is always exported to the child. The child runs in its own process
// group so that stopping it also stops anything it spawned: SIGTERM first,
// SIGKILL to the whole group once it exits or the shutdown timeout passes.
// Output is captured and kept for diagnostics.
package process
