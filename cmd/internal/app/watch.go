package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pulse/cmd/internal/realtime"
	"pulse/cmd/internal/signals"
	v1 "pulse/shared/contracts/realtime/v1"
)

// Watch streams realtime notifications to the output until ctx is done, the
// session ends or the realtime manager gives up. When metricsAddr is set the
// client metrics are served on it for the duration.
func (a *App) Watch(ctx context.Context, metricsAddr string) error {
	if !a.creds.HasCredentials(ctx) {
		return ErrNotSignedIn
	}
	if _, err := a.api.Me(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	unsubs := []func(){
		a.bus.Subscribe(signals.RealtimeNewNotification, func(s signals.Signal) { a.printNotification(s.Payload) }),
		a.bus.Subscribe(signals.RealtimeUnreadCountUpdate, func(s signals.Signal) { a.printUnread(s.Payload) }),
		a.bus.Subscribe(signals.RealtimeState, func(s signals.Signal) {
			a.log.Debug("watch.state", "state", s.Reason)
			if s.Reason == realtime.Failed.String() {
				cancel(ErrRealtimeFailed)
			}
		}),
		a.bus.Subscribe(signals.AuthFailed, func(signals.Signal) { cancel(ErrSessionEnded) }),
		a.bus.Subscribe(signals.AuthLogout, func(signals.Signal) { cancel(ErrSessionEnded) }),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	g, gctx := errgroup.WithContext(wctx)

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := newHTTPServer(a.cfg, mux)
		g.Go(func() error { return serve(gctx, srv, ln, a.log) })
	}

	if err := a.rt.Connect(wctx, realtime.ConnectParams{URL: a.wsURL, TokenFunc: a.realtimeToken}); err != nil {
		cancel(err)
	}

	g.Go(func() error {
		<-gctx.Done()
		dctx, dcancel := context.WithTimeout(context.Background(), signOutTimeout)
		defer dcancel()
		return a.rt.Disconnect(dctx)
	})

	werr := g.Wait()

	cause := context.Cause(wctx)
	switch {
	case errors.Is(cause, ErrRealtimeFailed), errors.Is(cause, ErrSessionEnded):
		return cause
	case ctx.Err() != nil:
		return nil
	case cause != nil && !errors.Is(cause, context.Canceled):
		return cause
	}
	return werr
}

func (a *App) printNotification(raw json.RawMessage) {
	var n v1.NotificationPayload
	if err := json.Unmarshal(raw, &n); err != nil {
		a.log.Warn("watch.notification.decode_fail", "err", err)
		return
	}
	at := n.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	line := at.Local().Format("15:04:05") + "  [" + n.Kind + "] " + n.Title
	if body := strings.TrimSpace(n.Body); body != "" {
		line += "\n           " + body
	}
	a.printf("%s\n", line)
}

func (a *App) printUnread(raw json.RawMessage) {
	var u v1.UnreadCountPayload
	if err := json.Unmarshal(raw, &u); err != nil {
		a.log.Warn("watch.unread.decode_fail", "err", err)
		return
	}
	a.printf("unread: %d\n", u.Count)
}
