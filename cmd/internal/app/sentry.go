package app

import (
	"time"

	"github.com/getsentry/sentry-go"

	"pulse/cmd/internal/signals"
)

// InitSentry enables error reporting when dsn is set. It reports whether
// Sentry is active.
func InitSentry(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// FlushSentry waits briefly for buffered events.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// reportAuthFailures captures every auth:failed signal as a Sentry message.
// The returned func unsubscribes.
func reportAuthFailures(bus *signals.Bus, hub *sentry.Hub) func() {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return bus.Subscribe(signals.AuthFailed, func(s signals.Signal) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("signal", s.Name)
			scope.SetTag("reason", s.Reason)
			scope.SetLevel(sentry.LevelWarning)
			hub.CaptureMessage("session ended: " + s.Reason)
		})
	})
}
