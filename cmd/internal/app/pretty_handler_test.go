package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("component", "realtime").Info("realtime.state", "state", "connected", "attempt", 2, "note", "two words")

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=realtime.state",
		"component=realtime",
		"state=connected",
		"attempt=2",
		`note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected ANSI codes without color: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line must end with newline: %q", line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("refresh.start")
	log.Warn("auth.failed", "reason", "refresh_rejected")

	out := buf.String()
	if strings.Contains(out, "refresh.start") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "lvl=[WARN]") || !strings.Contains(out, "reason=refresh_rejected") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPrettyHandler_GroupsAndRemap(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.WithGroup("http").Info("http.request", "status_class", "2xx", "duration_ms", int64(12))

	out := buf.String()
	if !strings.Contains(out, "http.class=2xx") || !strings.Contains(out, "http.duration=12ms") {
		t.Fatalf("group prefix missing: %q", out)
	}

	buf.Reset()
	log.Info("http.request", "status_class", "4xx", "duration_ms", int64(300))
	out = buf.String()
	if !strings.Contains(out, "class=4xx") || !strings.Contains(out, "duration=300ms") {
		t.Fatalf("key remap missing: %q", out)
	}
}

func TestPrettyHandler_RedactsSecrets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Info("debug.dump", "refresh_token", "r-secret", slog.Group("req", slog.String("authorization", "Bearer a-secret")))

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("secret leaked: %q", out)
	}
	if strings.Count(out, "[redacted]") != 2 {
		t.Fatalf("expected two redactions: %q", out)
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))

	log.Error("realtime.failed", "state", "failed", "status", 503)

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("level not colored: %q", out)
	}
	if !strings.Contains(out, "state="+ansiRed+"failed"+ansiReset) {
		t.Fatalf("state not colored: %q", out)
	}
	if !strings.Contains(out, "status="+ansiRed+"503"+ansiReset) {
		t.Fatalf("status not colored: %q", out)
	}
}

func TestPrettyHandler_GroupedKnownKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))

	log.Info("realtime.state",
		slog.Group("realtime", slog.String("from", "reconnecting"), slog.String("to", "connected")),
		slog.Group("password", slog.String("hash", "h-secret"), slog.Int("len", 12)),
	)

	out := buf.String()
	if !strings.Contains(out, "realtime.from="+ansiYellow+"reconnecting"+ansiReset) ||
		!strings.Contains(out, "realtime.to="+ansiGreen+"connected"+ansiReset) {
		t.Fatalf("grouped state not colored: %q", out)
	}
	if strings.Contains(out, "h-secret") || !strings.Contains(out, "password=[redacted]") {
		t.Fatalf("secret group must be redacted whole: %q", out)
	}
}
