// Package world holds the per-scenario and process-wide context objects.
//
// A World owns the services and imposters created through it, exposes them by
// logical name and guarantees teardown. The process-wide World and the
// per-scenario Worlds are instances of the same type; a scenario World may be
// given the process-wide World as a read-only parent consulted by Lookup.
//
// Names are reserved before creation starts, so a duplicate name is rejected
// without creating anything. Dispose stops every owned resource in reverse
// creation order, attempts every stop even when some fail, and reports the
// failures as api.TeardownErrors. Disposing twice has no further effect.
package world
