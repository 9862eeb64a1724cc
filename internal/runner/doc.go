// Package runner executes scenario suites.
//
// For every scenario the runner asks the orchestrator for a Ready World,
// hands it to a StepRunner and lets the orchestrator tear it down. Scenarios
// run sequentially or on a pool of workers; each scenario runs under its own
// timeout, and fail-fast skips scenarios that have not started yet once one
// fails.
//
// Results tell an environment that broke (ResultError: provisioning,
// configuration or, under the fail teardown policy, teardown) apart from
// behavior that broke (ResultFailed: a step failed).
//
// The harness does not parse steps. Steps is a small StepRunner for scenario
// files with built-in actions:
//
//	http               request a service and check the response
//	imposter-requests  check what an imposter captured
//	stop               stop a resource early
//	sleep              wait for a duration
//
// Other step runners, e.g. a browser automation client, implement StepRunner
// themselves.
package runner
