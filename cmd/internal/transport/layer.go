package transport

import (
	"net/http"

	"pulse/cmd/internal/credential"
	"pulse/cmd/internal/signals"
)

// Layer bundles the wired access-layer components.
type Layer struct {
	Config      Config
	Broadcaster *Broadcaster
	Refresher   *Refresher
	Dispatcher  *Dispatcher
	Session     *Session
}

// New wires Broadcaster, Refresher, Dispatcher and Session over one credential store and bus.
func New(cfg Config, creds *credential.Store, bus *signals.Bus, opts ...Option) (*Layer, error) {
	b := NewBroadcaster(creds, bus, opts...)

	r, err := NewRefresher(cfg, creds, b, opts...)
	if err != nil {
		return nil, err
	}
	d, err := NewDispatcher(creds, r, opts...)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(cfg, creds, bus, opts...)
	if err != nil {
		return nil, err
	}

	return &Layer{
		Config:      cfg,
		Broadcaster: b,
		Refresher:   r,
		Dispatcher:  d,
		Session:     s,
	}, nil
}

// HTTPClient returns a client whose every request goes through the Dispatcher.
func (l *Layer) HTTPClient() *http.Client {
	return &http.Client{Transport: l.Dispatcher, Timeout: l.Config.RequestTimeout}
}
