package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pulse/cmd/internal/credential"
)

const (
	refreshKey          = "refresh"
	maxRefreshBodyBytes = 1 << 20
)

// Refresh failure reasons carried by RefreshError and the auth:failed signal.
const (
	ReasonMissingCredentials = "missing refresh credentials"
	ReasonRejected           = "refresh rejected"
	ReasonRequestFailed      = "refresh request failed"
	ReasonPersistFailed      = "refreshed credentials could not be stored"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type refreshTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Success bool           `json:"success"`
	Tokens  *refreshTokens `json:"tokens,omitempty"`
}

// Refresher coordinates refresh calls. At most one call is outstanding at a
// time; concurrent callers share its outcome.
type Refresher struct {
	cfg         Config
	creds       *credential.Store
	broadcaster *Broadcaster
	client      *http.Client
	log         *slog.Logger
	metrics     *Metrics
	now         func() time.Time

	group singleflight.Group
}

// NewRefresher constructs a Refresher. The refresh call is sent on a plain
// client over the base transport, without credential attachment.
func NewRefresher(cfg Config, creds *credential.Store, b *Broadcaster, opts ...Option) (*Refresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil || b == nil {
		return nil, errors.New("transport: nil credential store or broadcaster")
	}
	o := buildOptions(opts)
	return &Refresher{
		cfg:         cfg,
		creds:       creds,
		broadcaster: b,
		client:      &http.Client{Transport: o.base, Timeout: cfg.RefreshTimeout},
		log:         o.log,
		metrics:     o.metrics,
		now:         o.now,
	}, nil
}

// Refresh obtains fresh credentials after a 401 on a request sent with
// failedAccess.
//
// If the stored access token already differs from failedAccess, another
// caller refreshed (or a rotation landed) in the meantime and Refresh returns
// nil without a network call. Otherwise the caller joins the in-flight
// refresh or starts one. A new flight checks the stored token again before
// calling out, since a previous flight may have settled after the first
// check. The refresh itself is detached from ctx, so a caller that gives up
// only stops waiting.
func (r *Refresher) Refresh(ctx context.Context, failedAccess string) error {
	if r.superseded(ctx, failedAccess) {
		return nil
	}

	r.metrics.waiters(1)
	defer r.metrics.waiters(-1)

	ch := r.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RefreshTimeout)
		defer cancel()
		if r.superseded(rctx, failedAccess) {
			return nil, nil
		}
		return nil, r.run(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// superseded reports whether the stored access token is no longer failedAccess.
func (r *Refresher) superseded(ctx context.Context, failedAccess string) bool {
	if cur := r.creds.AccessToken(ctx); cur != "" && cur != failedAccess {
		r.log.Debug("refresh.skip.already_rotated")
		return true
	}
	return false
}

func (r *Refresher) run(ctx context.Context) error {
	start := r.now()
	r.log.Info("refresh.start")

	bundle, _ := r.creds.Get(ctx)
	deviceID, _ := r.creds.DeviceID(ctx)
	if bundle.RefreshToken == "" || deviceID == "" {
		return r.fail(ctx, &RefreshError{Reason: ReasonMissingCredentials})
	}

	tokens, err := r.call(ctx, bundle.RefreshToken, deviceID)
	if err != nil {
		return r.fail(ctx, err)
	}

	next := credential.NewBundle(tokens.AccessToken, tokens.RefreshToken, r.now())
	if err := r.creds.Set(ctx, next); err != nil {
		return r.fail(ctx, &RefreshError{Reason: ReasonPersistFailed, Err: err})
	}

	r.metrics.refreshResult("success")
	r.log.Info("refresh.success", "took_ms", r.now().Sub(start).Milliseconds())
	return nil
}

func (r *Refresher) fail(ctx context.Context, err error) error {
	var re *RefreshError
	if !errors.As(err, &re) {
		re = &RefreshError{Reason: ReasonRequestFailed, Err: err}
	}
	r.metrics.refreshResult("failure")
	r.log.Warn("refresh.failed", "reason", re.Reason, "status", re.StatusCode, "err", re.Err)

	r.broadcaster.ClearAndBroadcast(ctx, re.Reason)
	return re
}

func (r *Refresher) call(ctx context.Context, refreshToken, deviceID string) (refreshTokens, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken, DeviceID: deviceID})
	if err != nil {
		return refreshTokens{}, &RefreshError{Reason: ReasonRequestFailed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.endpoint(r.cfg.RefreshPath), bytes.NewReader(body))
	if err != nil {
		return refreshTokens{}, &RefreshError{Reason: ReasonRequestFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return refreshTokens{}, &RefreshError{Reason: ReasonRequestFailed, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRefreshBodyBytes))
		return refreshTokens{}, &RefreshError{Reason: ReasonRejected, StatusCode: resp.StatusCode}
	}

	var out refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshBodyBytes)).Decode(&out); err != nil {
		return refreshTokens{}, &RefreshError{Reason: ReasonRejected, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success || out.Tokens == nil ||
		strings.TrimSpace(out.Tokens.AccessToken) == "" ||
		strings.TrimSpace(out.Tokens.RefreshToken) == "" {
		return refreshTokens{}, &RefreshError{Reason: ReasonRejected, StatusCode: resp.StatusCode}
	}
	return *out.Tokens, nil
}
