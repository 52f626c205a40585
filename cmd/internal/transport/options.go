package transport

import (
	"log/slog"
	"net/http"
	"time"
)

type options struct {
	log     *slog.Logger
	metrics *Metrics
	base    http.RoundTripper
	now     func() time.Time
}

// Option configures the access-layer components.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBaseTransport sets the RoundTripper that actually sends requests.
// Default: http.DefaultTransport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.base = rt
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:  slog.Default(),
		base: http.DefaultTransport,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
