package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *fixture) dialWS(header http.Header) (*wsPeer, *http.Response, error) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, resp, err
	}
	f.t.Cleanup(func() { _ = conn.CloseNow() })
	return &wsPeer{t: f.t, conn: conn}, resp, nil
}

func (p *wsPeer) send(typ string, payload any) {
	p.t.Helper()
	env, err := v1.New(typ, "c-"+typ, time.Now().UTC(), payload)
	if err != nil {
		p.t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageText, b); err != nil {
		p.t.Fatalf("write %s: %v", typ, err)
	}
}

func (p *wsPeer) read() (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := p.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func (p *wsPeer) expect(typ string, dst any) {
	p.t.Helper()
	env, err := p.read()
	if err != nil {
		p.t.Fatalf("read (want %s): %v", typ, err)
	}
	if env.Type != typ {
		p.t.Fatalf("type=%s want %s (payload=%s)", env.Type, typ, env.Payload)
	}
	if dst != nil {
		if err := env.Decode(dst); err != nil {
			p.t.Fatalf("decode %s: %v", typ, err)
		}
	}
}

func (f *fixture) helloPeer() (*wsPeer, loginResponse) {
	f.t.Helper()
	out := f.login("")
	p, _, err := f.dialWS(nil)
	if err != nil {
		f.t.Fatalf("dial: %v", err)
	}
	p.send(v1.TypeHello, v1.HelloPayload{Token: out.Tokens.AccessToken, UserID: f.user.ID, CompanyID: "acme"})

	var ack v1.HelloAckPayload
	p.expect(v1.TypeHelloAck, &ack)
	if ack.SessionID == "" || ack.UserID != f.user.ID {
		f.t.Fatalf("unexpected ack: %+v", ack)
	}
	return p, out
}

func waitSubscribers(t *testing.T, h *Hub, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d want %d", h.Subscribers(userID), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_HelloSubscribeAndPush(t *testing.T) {
	f := newFixture(t, nil)
	p, _ := f.helloPeer()

	if _, err := f.srv.Notify(f.user.ID, "info", "before subscribe", ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	p.send(v1.TypeSubscribeNotifications, v1.SubscriptionPayload{})
	var count v1.UnreadCountPayload
	p.expect(v1.TypeUnreadCountUpdate, &count)
	if count.Count != 1 {
		t.Fatalf("initial unread=%d want 1", count.Count)
	}
	waitSubscribers(t, f.srv.Hub(), f.user.ID, 1)

	if _, err := f.srv.Notify(f.user.ID, "alert", "disk full", "94% used"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	var n v1.NotificationPayload
	p.expect(v1.TypeNewNotification, &n)
	if n.Title != "disk full" || n.Kind != "alert" || n.Body != "94% used" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	p.expect(v1.TypeUnreadCountUpdate, &count)
	if count.Count != 2 {
		t.Fatalf("unread=%d want 2", count.Count)
	}

	p.send(v1.TypeUnsubscribeNotifications, v1.SubscriptionPayload{})
	waitSubscribers(t, f.srv.Hub(), f.user.ID, 0)
}

func TestGateway_HelloRejected(t *testing.T) {
	f := newFixture(t, nil)
	out := f.login("")

	cases := []struct {
		name  string
		hello v1.HelloPayload
	}{
		{"bad token", v1.HelloPayload{Token: "not-a-token"}},
		{"user mismatch", v1.HelloPayload{Token: out.Tokens.AccessToken, UserID: "someone-else"}},
		{"company mismatch", v1.HelloPayload{Token: out.Tokens.AccessToken, CompanyID: "other"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, err := f.dialWS(nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			p.send(v1.TypeHello, tc.hello)

			var e v1.ErrorPayload
			p.expect(v1.TypeError, &e)
			if e.Code != "unauthorized" {
				t.Fatalf("code=%q want unauthorized", e.Code)
			}
			if _, err := p.read(); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
		})
	}
}

func TestGateway_SubscribeRequiresHello(t *testing.T) {
	f := newFixture(t, nil)
	p, _, err := f.dialWS(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p.send(v1.TypeSubscribeNotifications, v1.SubscriptionPayload{})

	var e v1.ErrorPayload
	p.expect(v1.TypeError, &e)
	if e.Code != "hello_required" {
		t.Fatalf("code=%q want hello_required", e.Code)
	}
}

func TestGateway_RevokedSessionRejected(t *testing.T) {
	f := newFixture(t, nil)
	out := f.login("")
	claims, err := f.srv.Authenticate(t.Context(), out.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	_ = f.srv.Directory().Revoke(claims.SessionID, f.clock.Now())

	p, _, err := f.dialWS(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p.send(v1.TypeHello, v1.HelloPayload{Token: out.Tokens.AccessToken})
	p.expect(v1.TypeError, nil)
}

func TestGateway_BadFrames(t *testing.T) {
	f := newFixture(t, nil)
	p, _ := f.helloPeer()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e v1.ErrorPayload
	p.expect(v1.TypeError, &e)
	if e.Code != "bad_json" {
		t.Fatalf("code=%q want bad_json", e.Code)
	}

	if err := p.conn.Write(ctx, websocket.MessageText, []byte(`{"v":"v9","type":"hello"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.expect(v1.TypeError, &e)
	if e.Code != "bad_envelope" {
		t.Fatalf("code=%q want bad_envelope", e.Code)
	}

	p.send(v1.TypeNewNotification, v1.NotificationPayload{})
	p.expect(v1.TypeError, &e)
	if e.Code != "unsupported" {
		t.Fatalf("code=%q want unsupported", e.Code)
	}
}

func TestGateway_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.WS.RateEvents = 3
		c.WS.RateWindow = time.Minute
	})
	p, _ := f.helloPeer()

	p.send(v1.TypeUnsubscribeNotifications, nil)
	p.send(v1.TypeUnsubscribeNotifications, nil)
	p.send(v1.TypeUnsubscribeNotifications, nil)

	var e v1.ErrorPayload
	p.expect(v1.TypeError, &e)
	if e.Code != "rate_limited" {
		t.Fatalf("code=%q want rate_limited", e.Code)
	}
}

func TestGateway_OriginPolicy(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.WS.OriginRequired = true
		c.WS.AllowedOrigins = []string{"http://localhost:3000"}
	})

	_, resp, err := f.dialWS(nil)
	if err == nil {
		t.Fatalf("expected missing origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}

	_, resp, err = f.dialWS(http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be rejected, err=%v", err)
	}

	if _, _, err := f.dialWS(http.Header{"Origin": []string{"http://localhost:3000"}}); err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatterns([]string{"http://localhost:3000", "https://B.example", "*", "localhost", ""})
	want := []string{"b.example", "b.example:*", "localhost", "localhost:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns=%v want %v", got, want)
	}
}
