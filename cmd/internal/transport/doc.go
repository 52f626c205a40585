// Package transport is the authenticated HTTP access layer.
//
// Dispatcher is an http.RoundTripper that attaches the stored credentials to
// every request, persists server-initiated credential rotation, and hands
// 401 responses to the Refresher. The Refresher runs at most one refresh call
// at a time; every request that fails while a refresh is in flight waits on
// that same call and is replayed once it settles. A request that is rejected
// again after its replay fails with ErrAuthExpired and never triggers another
// refresh.
//
// When a refresh cannot succeed the Broadcaster clears the credential store
// and publishes a single signals.AuthFailed, however many callers were
// waiting.
//
// Errors other than 401 (transport failures, 4xx, 5xx) pass through to the
// caller unchanged.
package transport
