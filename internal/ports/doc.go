// Package ports hands out TCP ports to services started by the harness.
//
// The Allocator keeps a process-wide reservation table keyed by port. A port
// reserved for one owner is never returned to another owner until it has been
// released, which keeps parallel scenarios from binding the same address.
// Every candidate is bind-tested before it is handed out, but the OS may still
// give a released port to an unrelated process between allocation and bind, so
// callers confirm binding through a health check before relying on it.
//
// Two modes are supported:
//
//   - Range mode (BasePort > 0): candidates come from [BasePort, BasePort+Span)
//     using a rotating cursor so consecutive allocations do not retry the same
//     low ports.
//   - Ephemeral mode (BasePort == 0): the OS picks a free port via a ":0"
//     listener; the result is still recorded in the reservation table.
//
// Ports assigned by someone else, such as the virtualization backend, are
// recorded with Claim so the allocator never hands them out while live.
package ports
