package app

import (
	"context"
	"net"
	"net/http"

	"pulse/cmd/internal/devserver"
	"pulse/cmd/security/password"
)

// NewDevServer builds the dev backend from PULSE_DEV_*, PULSE_WS_* and
// PULSE_ARGON2_* settings, seeds the configured account and returns the
// wrapped HTTP handler.
func NewDevServer(cfg Config, log Logger) (*devserver.Server, http.Handler, error) {
	dcfg, err := devserver.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	hasher, err := TokenHasher(cfg)
	if err != nil {
		return nil, nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, nil, err
	}

	srv, err := devserver.New(dcfg,
		devserver.WithLogger(log),
		devserver.WithTokenHasher(hasher),
		devserver.WithPasswordConfig(pwCfg),
	)
	if err != nil {
		return nil, nil, err
	}

	if cfg.SeedUser != "" {
		u, err := srv.Seed(cfg.SeedUser, cfg.SeedPassword, cfg.SeedCompany)
		if err != nil {
			return nil, nil, err
		}
		log.Info("devserver.seed", "user_id", u.ID, "username", u.Username, "company_id", u.CompanyID)
	}

	h := WithRecover(WithSecurityHeaders(WithRequestLogging(srv.Handler(), log)), log)
	return srv, h, nil
}

// RunDevServer serves the dev backend on ln (cfg.HTTPAddr when nil) until
// ctx is done.
func RunDevServer(ctx context.Context, cfg Config, log Logger, ln net.Listener) error {
	_, h, err := NewDevServer(cfg, log)
	if err != nil {
		return err
	}
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return err
		}
	}
	log.Info("devserver.ready", "url", runtimeBaseURL(ln.Addr().String()), "hmac", cfg.RequireTokenHMAC)
	return serve(ctx, newHTTPServer(cfg, h), ln, log)
}
