// Package api holds the vocabulary shared by every stagehand component: the
// resource kinds, service locations, lifecycle states and the typed errors
// that travel between the port allocator, the service factory, the imposter
// manager, Worlds and the orchestrator.
//
// It imports nothing else from stagehand so that any package may depend on
// it.
//
// # Errors
//
// Every failure mode has its own error type with an Is* helper:
//
//	if api.IsResourceExhausted(err) { ... }   // no free port in range
//	if api.IsTimedOut(err) { ... }            // a deadline passed
//	if api.IsStartFailed(err) { ... }         // Handle.Start failed
//	if api.IsServiceUnhealthy(err) { ... }    // health check never passed
//	if api.IsRegistrationFailed(err) { ... }  // imposter backend refused
//	if api.IsConfiguration(err) { ... }       // bad declaration or settings
//	if api.IsProvisioning(err) { ... }        // a World could not be built
//
// TeardownErrors collects per-resource stop failures; teardown never stops at
// the first one.
package api
