// Package main provides a CI-friendly smoke test for the Pulse dev backend.
//
// It validates:
//   - REST login for two devices of the same account
//   - handshake + subprotocol selection
//   - hello/ack session establishment with the access token
//   - subscribe -> unread counter
//   - REST-created notification fanned out to both sessions
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Tokens  tokens `json:"tokens"`
	User    struct {
		ID string `json:"id"`
	} `json:"user"`
}

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "REST API base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		user    = flag.String("user", "dev", "Username to sign in with")
		pass    = flag.String("password", "dev-password", "Password to sign in with")
		title   = flag.String("title", "pulse smoke 🔔", "Notification title to create")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateHTTPURL(*apiURL); err != nil {
		fatalf("invalid -api: %v", err)
	}
	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	loginA := mustLogin(root, httpc, *apiURL, *user, *pass, "smoke-a")
	loginB := mustLogin(root, httpc, *apiURL, *user, *pass, "smoke-b")

	a := mustConnect(root, "A", *wsURL, *origin, loginA.Tokens.AccessToken, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, loginB.Tokens.AccessToken, *timeout)
	defer closeWS(b.conn)

	if a.userID != loginA.User.ID || b.userID != loginB.User.ID {
		fatalf("hello_ack user mismatch: A=%s B=%s want=%s", a.userID, b.userID, loginA.User.ID)
	}
	if *verbose {
		fmt.Printf("connected: A=%s B=%s user=%s origin=%q\n", a.sessionID, b.sessionID, a.userID, *origin)
	}

	before := mustSubscribe(root, a, *timeout)
	_ = mustSubscribe(root, b, *timeout)

	id := mustCreateNotification(root, httpc, *apiURL, loginA.Tokens.AccessToken, *title)

	mustAssertNotification(root, a, id, *title, *timeout)
	mustAssertNotification(root, b, id, *title, *timeout)

	after := mustReadUnread(root, a, *timeout)
	if after != before+1 {
		fatalf("unread counter: before=%d after=%d", before, after)
	}

	fmt.Printf("OK: A=%s B=%s user=%s notification_id=%s unread=%d\n", a.sessionID, b.sessionID, a.userID, id, after)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(ctx context.Context, c *http.Client, apiURL, user, pass, deviceID string) loginResponse {
	body := mustJSON(map[string]string{"username": user, "password": pass, "deviceId": deviceID})
	var out loginResponse
	mustDoJSON(ctx, c, http.MethodPost, apiURL+"/auth/login", "", body, http.StatusOK, &out)
	if !out.Success || out.Tokens.AccessToken == "" {
		fatalf("login %s: no access token in response", deviceID)
	}
	return out
}

func mustCreateNotification(ctx context.Context, c *http.Client, apiURL, access, title string) string {
	body := mustJSON(map[string]string{"kind": "smoke", "title": title})
	var out v1.NotificationPayload
	mustDoJSON(ctx, c, http.MethodPost, apiURL+"/api/notifications", access, body, http.StatusCreated, &out)
	if strings.TrimSpace(out.ID) == "" {
		fatalf("create notification: missing id")
	}
	return out.ID
}

func mustDoJSON(ctx context.Context, c *http.Client, method, target, bearer string, body []byte, want int, dst any) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, target, err)
	}
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, target, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		fatalf("%s %s: decode: %v", method, target, err)
	}
}

func mustConnect(parent context.Context, name, wsURL, origin, access string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello, err := v1.New(v1.TypeHello, name+"-hello", time.Now().UTC(), v1.HelloPayload{Token: access})
	if err != nil {
		fatalf("build hello (%s): %v", name, err)
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustSubscribe(parent context.Context, c *smokeClient, stepTimeout time.Duration) int {
	env, err := v1.New(v1.TypeSubscribeNotifications, c.name+"-sub", time.Now().UTC(), v1.SubscriptionPayload{})
	if err != nil {
		fatalf("build subscribe (%s): %v", c.name, err)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
	return mustReadUnread(parent, c, stepTimeout)
}

func mustReadUnread(parent context.Context, c *smokeClient, stepTimeout time.Duration) int {
	env := c.mustReadUntilType(parent, v1.TypeUnreadCountUpdate, stepTimeout, nil)
	var p v1.UnreadCountPayload
	if err := env.Decode(&p); err != nil {
		fatalf("decode unread_count_update (%s): %v", c.name, err)
	}
	return p.Count
}

func mustAssertNotification(parent context.Context, c *smokeClient, id, title string, stepTimeout time.Duration) {
	// Counter updates from other writers may arrive first.
	skip := map[string]struct{}{v1.TypeUnreadCountUpdate: {}}
	env := c.mustReadUntilType(parent, v1.TypeNewNotification, stepTimeout, skip)

	var n v1.NotificationPayload
	if err := env.Decode(&n); err != nil {
		fatalf("decode new_notification (%s): %v", c.name, err)
	}
	if n.ID != id {
		fatalf("new_notification id mismatch (%s): got=%q want=%q", c.name, n.ID, id)
	}
	if n.Title != title {
		fatalf("new_notification title mismatch (%s): got=%q want=%q", c.name, n.Title, title)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = env.Decode(&ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
