package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClient_Me(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/me" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"id":"u1","username":"alice","company_id":"c1"}`)
	}))

	u, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if u.ID != "u1" || u.CompanyID != "c1" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestClient_CreateNotification(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in NewNotification
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Notification{ID: "n1", Kind: in.Kind, Title: in.Title})
	}))

	n, err := c.CreateNotification(context.Background(), NewNotification{Kind: "task", Title: "Review"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID != "n1" || n.Title != "Review" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":"forbidden","message":"nope"}}`)
	}))

	_, err := c.Notifications(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClient_RawKeepsQuery(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		_, _ = io.WriteString(w, "raw")
	}))

	b, status, err := c.Raw(context.Background(), "api/notifications?limit=5")
	if err != nil || status != http.StatusOK || string(b) != "raw" {
		t.Fatalf("unexpected raw result: %q %d %v", b, status, err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("::", http.DefaultClient); err == nil {
		t.Fatalf("expected invalid url error")
	}
	if _, err := New("http://localhost", nil); err == nil {
		t.Fatalf("expected nil client error")
	}
}
