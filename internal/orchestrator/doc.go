// Package orchestrator builds Worlds from declared environments and tears
// them down.
//
// Every scenario gets a Run that moves through a fixed state machine:
//
//	Pending -> Provisioning -> Ready -> InUse -> TearingDown -> Done
//
// with Failed reachable from Pending (invalid declaration), Provisioning and
// TearingDown. Illegal transitions return ErrInvalidTransition and every
// transition is recorded with a timestamp.
//
// Provisioning fans resource creation out with errgroup: all services and
// imposters start and wait on their health checks concurrently, so setup
// takes roughly as long as the slowest resource. The first failure cancels
// the sibling health waits, every goroutine is drained, and everything that
// was created is torn down before the *api.ProvisioningError is returned. An
// aggregate timeout bounds the whole phase.
//
// Teardown failures are recorded on the Run and never revert its state. With
// the report policy they are logged and the Run still ends Done; with the fail
// policy the Run ends Failed and Teardown returns the errors.
//
// Resource lifecycle transitions are published to subscribers as
// ResourceEvents. Slow subscribers miss events instead of blocking
// provisioning.
package orchestrator
