package transport

import (
	"context"
	"log/slog"
	"sync"

	"pulse/cmd/internal/credential"
	"pulse/cmd/internal/signals"
)

// Broadcaster clears the session and announces it exactly once.
type Broadcaster struct {
	creds   *credential.Store
	bus     *signals.Bus
	log     *slog.Logger
	metrics *Metrics

	mu sync.Mutex
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(creds *credential.Store, bus *signals.Bus, opts ...Option) *Broadcaster {
	o := buildOptions(opts)
	return &Broadcaster{
		creds:   creds,
		bus:     bus,
		log:     o.log,
		metrics: o.metrics,
	}
}

// ClearAndBroadcast clears credentials and device identity, then publishes
// one signals.AuthFailed carrying reason. It is a no-op (returns false) when
// no credentials are stored, so repeated calls after the first do nothing.
func (b *Broadcaster) ClearAndBroadcast(ctx context.Context, reason string) bool {
	b.mu.Lock()
	if !b.creds.HasCredentials(ctx) {
		b.mu.Unlock()
		return false
	}
	if err := b.creds.ClearAll(ctx); err != nil {
		// The signal still goes out; the shell signs out regardless.
		b.log.Error("auth.failed.clear_error", "err", err)
	}
	b.mu.Unlock()

	b.metrics.authFailed()
	b.log.Warn("auth.failed", "reason", reason)
	b.bus.Publish(signals.Signal{Name: signals.AuthFailed, Reason: reason})
	return true
}
