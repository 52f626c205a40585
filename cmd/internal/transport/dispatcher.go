package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/internal/credential"
)

// Header names exchanged with the REST API.
const (
	HeaderAuthorization   = "Authorization"
	HeaderDeviceID        = "X-Device-Id"
	HeaderRefreshToken    = "X-Refresh-Token"
	HeaderNewAccessToken  = "X-New-Access-Token"
	HeaderNewRefreshToken = "X-New-Refresh-Token"
	HeaderTokenRefreshed  = "X-Token-Refreshed"
)

const maxDrainBytes = 64 << 10

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx belongs to a request already replayed after a refresh.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Dispatcher is an http.RoundTripper attaching stored credentials and
// recovering from expired access tokens through a Refresher.
type Dispatcher struct {
	base      http.RoundTripper
	creds     *credential.Store
	refresher *Refresher
	log       *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewDispatcher constructs a Dispatcher sending through the base transport
// configured by WithBaseTransport.
func NewDispatcher(creds *credential.Store, refresher *Refresher, opts ...Option) (*Dispatcher, error) {
	if creds == nil || refresher == nil {
		return nil, errors.New("transport: nil credential store or refresher")
	}
	o := buildOptions(opts)
	return &Dispatcher{
		base:      o.base,
		creds:     creds,
		refresher: refresher,
		log:       o.log,
		metrics:   o.metrics,
		now:       o.now,
	}, nil
}

// RoundTrip implements http.RoundTripper.
//
// A 401 is answered by one refresh (shared with concurrent failures) and one
// replay of the original request. A 401 on the replay yields ErrAuthExpired.
// Transport errors and every other status are returned unchanged.
func (d *Dispatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	resp, sentAccess, err := d.send(req.Context(), req, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drainClose(resp)

	if IsRetried(req.Context()) {
		return nil, fmt.Errorf("%w: %s %s", ErrAuthExpired, req.Method, req.URL.Path)
	}

	d.log.Debug("dispatch.unauthorized", "method", req.Method, "path", req.URL.Path)
	if err := d.refresher.Refresh(req.Context(), sentAccess); err != nil {
		return nil, err
	}

	replayCtx := markRetried(req.Context())
	resp, _, err = d.send(replayCtx, req, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drainClose(resp)
		d.log.Warn("dispatch.replay.unauthorized", "method", req.Method, "path", req.URL.Path)
		return nil, fmt.Errorf("%w: %s %s", ErrAuthExpired, req.Method, req.URL.Path)
	}
	return resp, nil
}

// send clones req with fresh credentials and a replayable body and returns
// the access token it was sent with.
func (d *Dispatcher) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, string, error) {
	out := req.Clone(ctx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}

	access := d.attach(ctx, out)

	resp, err := d.base.RoundTrip(out)
	if err != nil {
		return nil, access, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		d.applyRotation(ctx, resp)
	}
	return resp, access, nil
}

func (d *Dispatcher) attach(ctx context.Context, r *http.Request) string {
	bundle, _ := d.creds.Get(ctx)
	if bundle.AccessToken != "" {
		r.Header.Set(HeaderAuthorization, "Bearer "+bundle.AccessToken)
	}
	if bundle.RefreshToken != "" {
		r.Header.Set(HeaderRefreshToken, bundle.RefreshToken)
	}
	if id, ok := d.creds.DeviceID(ctx); ok {
		r.Header.Set(HeaderDeviceID, id)
	}
	return bundle.AccessToken
}

// applyRotation persists credentials the server rotated on a normal response.
func (d *Dispatcher) applyRotation(ctx context.Context, resp *http.Response) {
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get(HeaderTokenRefreshed)), "true") {
		return
	}
	access := strings.TrimSpace(resp.Header.Get(HeaderNewAccessToken))
	refresh := strings.TrimSpace(resp.Header.Get(HeaderNewRefreshToken))
	if access == "" || refresh == "" {
		d.log.Warn("dispatch.rotation.incomplete")
		return
	}

	if err := d.creds.Set(ctx, credential.NewBundle(access, refresh, d.now())); err != nil {
		d.log.Error("dispatch.rotation.store_failed", "err", err)
		return
	}
	d.metrics.rotation()
	d.log.Info("dispatch.rotation.applied")
}

// readBody buffers and closes the request body so it can be replayed.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()

	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: buffer request body: %w", err)
	}
	return b, nil
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}
