// Package imposter is a typed client for the service virtualization backend.
//
// Imposters are registered without a port: the backend binds one atomically
// and returns it, so parallel scenarios never race for the same address. The
// port is then claimed in the shared allocator so services are never handed a
// port an imposter holds.
//
// Requests recorded by an imposter are fetched lazily and reflect everything
// received up to the call; the history only grows during the imposter's life.
// Deregistering is idempotent.
//
// Transport is github.com/hashicorp/go-retryablehttp: GET and DELETE are
// retried on connection errors and 5xx responses, POST is sent once because a
// retried registration could create a second imposter.
package imposter
