// Package services turns construction functions into running, health-checked
// services bound to allocated ports.
//
// # Core Concepts
//
// Handle: the capability every service kind implements. A handle is built for
// one port and knows how to start, probe and stop the service behind it:
//
//	type Handle interface {
//	    Start(ctx context.Context) error
//	    HealthProbe(ctx context.Context) (bool, error)
//	    Stop(ctx context.Context) error
//	    Location(port int) api.ServiceLocation
//	}
//
// ConstructFunc: `func(port int) (Handle, error)`, supplied by a service kind.
//
// Factory: allocates a port, calls the construction function, starts the
// handle and waits for its probe. Every failure path stops what was started
// and releases the port before returning:
//
//   - construction or Start failed: *api.StartFailedError, the probe is never called
//   - the probe never reported ready: *api.ServiceUnhealthyError
//
// Service: the result of a successful Create. It implements api.Resource and
// its Stop is idempotent; the port is released only after the handle stopped.
//
// Catalog: maps declaration kinds such as "process" or "http-stub" to
// builders. Builders receive a Spec whose Config may contain `{{ port }}`
// style placeholders, resolved by Spec.Render once the port is known.
//
// # Usage
//
//	factory := services.NewFactory(allocator, health.NewChecker(health.Options{}), 0)
//	svc, err := factory.Create(ctx, "web", construct, services.CreateOptions{Owner: worldID})
//	if err != nil {
//	    return err
//	}
//	defer svc.Stop(ctx)
//
// # Thread Safety
//
// Factory and Catalog are safe for concurrent use. A Service may be stopped
// from any goroutine; concurrent Stop calls stop the handle once.
package services
