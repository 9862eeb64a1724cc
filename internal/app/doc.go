// Package app wires stagehand's components together.
//
// NewApplication loads the layered configuration (defaults, stagehand.yaml,
// STAGEHAND_* environment variables and CLI overrides), initializes logging
// and builds the component graph:
//
//	PortAllocator -> HealthChecker -> ServiceFactory ---------\
//	                                  ImposterManager -> backend
//	                                          \                \
//	                     global World <- Orchestrator <- Catalog
//
// The virtualization backend is either a remote mountebank-compatible server
// (backend.url) or an in-process one started on demand. Start provisions the
// global World declared in the configuration; the execution modes
// (RunSuite, ServeMCP, ServeBackend) call it themselves.
//
// Close tears down every live World, the global World and the embedded
// backend, in that order.
package app
