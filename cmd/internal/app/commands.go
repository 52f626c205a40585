package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/apiclient"
)

// Build metadata, set with -ldflags "-X pulse/cmd/internal/app.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	opts   []Option

	apiURL    string
	logLevel  string
	logFormat string
	store     string

	app         *App
	sentryOn    bool
	stopReports func()
}

// NewRootCommand builds the pulse command tree. opts are applied to the App
// every command constructs.
func NewRootCommand(in io.Reader, out, errOut io.Writer, opts ...Option) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut, opts: opts}

	root := &cobra.Command{
		Use:               "pulse",
		Short:             fmt.Sprintf("Pulse dashboard client (version: %s, commit: %s)", Version, Commit),
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.teardown()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.apiURL, "api-url", "", "REST API base URL (default $PULSE_API_URL or http://127.0.0.1:8080)")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&c.logFormat, "log-format", "", "Log format (json, pretty)")
	pf.StringVar(&c.store, "store", "", "Credential store (file, memory, postgres)")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.getCmd(),
		c.notifyCmd(),
		c.watchCmd(),
		c.versionCmd(),
	)
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, opts ...Option) error {
	root := NewRootCommand(in, out, errOut, opts...)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		// PersistentPostRunE is skipped when RunE fails.
		_ = root.PersistentPostRunE(root, nil)
	}
	return err
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}

	cfg := LoadConfig()
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = strings.ToLower(c.logFormat)
	}
	if c.store != "" {
		cfg.Store = strings.ToLower(c.store)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := NewLogger(cfg, c.errOut)

	on, err := InitSentry(cfg.SentryDSN, cfg.Environment, Version)
	if err != nil {
		log.Warn("sentry.init.fail", "err", err)
	}
	c.sentryOn = on

	opts := append([]Option{WithOutput(c.out)}, c.opts...)
	if c.apiURL != "" {
		opts = append(opts, WithAPIURL(c.apiURL))
	}
	a, err := New(cmd.Context(), cfg, log, opts...)
	if err != nil {
		return err
	}
	c.app = a
	if c.sentryOn {
		c.stopReports = reportAuthFailures(a.Bus(), nil)
	}
	return nil
}

func (c *cli) teardown() error {
	if c.stopReports != nil {
		c.stopReports()
		c.stopReports = nil
	}
	if c.sentryOn {
		FlushSentry()
		c.sentryOn = false
	}
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *cli) loginCmd() *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = EnvString("PULSE_USERNAME", "")
			}
			if username == "" {
				return errors.New("login: --username (or PULSE_USERNAME) is required")
			}
			pw := os.Getenv("PULSE_PASSWORD")
			if passwordStdin || pw == "" {
				line, err := readLine(c.in)
				if err != nil {
					return fmt.Errorf("login: read password: %w", err)
				}
				pw = line
			}
			if pw == "" {
				return errors.New("login: empty password")
			}

			u, err := c.app.Login(cmd.Context(), username, pw)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.out, "Signed in as %s (company %s).\n", u.Username, u.CompanyID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.app.creds.HasCredentials(cmd.Context()) {
				_, _ = fmt.Fprintln(c.out, "Not signed in.")
				return nil
			}
			return c.app.Logout(cmd.Context())
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.app.Status(cmd.Context())
			if err != nil {
				return err
			}
			w := c.out
			if !st.SignedIn {
				_, _ = fmt.Fprintln(w, "Not signed in.")
			} else {
				if st.User != nil {
					_, _ = fmt.Fprintf(w, "Signed in as %s (user %s, company %s)\n", st.User.Username, st.User.ID, st.User.CompanyID)
				} else {
					_, _ = fmt.Fprintln(w, "Signed in")
				}
				if !st.ExpiresAt.IsZero() {
					_, _ = fmt.Fprintf(w, "Access token expires: %s\n", st.ExpiresAt.Local().Format(time.RFC3339))
				}
			}
			if st.DeviceID != "" {
				_, _ = fmt.Fprintf(w, "Device: %s\n", st.DeviceID)
			}
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Authenticated GET of an API path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.app.Get(cmd.Context(), args[0])
			if err != nil {
				if len(body) > 0 {
					_, _ = c.errOut.Write(body)
				}
				return err
			}
			_, _ = c.out.Write(body)
			if len(body) > 0 && body[len(body)-1] != '\n' {
				_, _ = fmt.Fprintln(c.out)
			}
			return nil
		},
	}
}

func (c *cli) notifyCmd() *cobra.Command {
	var kind, body string
	cmd := &cobra.Command{
		Use:   "notify <title>",
		Short: "Create a notification for yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.app.Notify(cmd.Context(), apiclient.NewNotification{Kind: kind, Title: args[0], Body: body})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.out, "Created notification %s.\n", n.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "info", "Notification kind")
	cmd.Flags().StringVar(&body, "body", "", "Notification body")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream realtime notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Watch(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No App is needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			_, _ = fmt.Fprintf(c.out, "pulse %s (commit %s)\n", Version, Commit)
		},
	}
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", io.EOF
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
