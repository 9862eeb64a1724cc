// Package health polls readiness probes with bounded retries and backoff.
//
// A Checker runs on the caller's goroutine and keeps no shared state between
// calls, so any number of Await calls can run concurrently. Delays between
// attempts grow by a backoff factor up to a cap. A wait never reports TimedOut
// before its timeout has elapsed and, because every probe call carries its own
// deadline, always returns within the timeout plus one probe timeout.
//
// Probe constructors are provided for TCP, HTTP and gRPC health endpoints.
package health
