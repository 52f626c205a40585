package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "ts=%s lvl=%s msg=%s",
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		levelTag(r.Level, h.color),
		paint(r.Message, ansiBright, h.color))

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
		}
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		h.appendAttr(&b, a, prefix)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, prefix)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// appendAttr writes a as " prefix.key=value". Secret keys are redacted
// whole, groups included; known keys get an alias and a colored value.
func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" || a.Equal(slog.Attr{}) {
		return
	}
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	if isSecretKey(key) {
		b.WriteString(" " + join(key) + "=[redacted]")
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, join(key))
		}
		return
	}

	f, known := prettyKeys[key]
	if known && f.alias != "" {
		key = f.alias
	}
	val := ""
	if known {
		val = f.format(a.Value, h.color)
	}
	if val == "" {
		val = quoteIfNeeded(valueToString(a.Value))
	}
	b.WriteString(" " + join(key) + "=" + val)
}

// keyFormat renders the value of a well-known attribute key. An empty result
// falls back to plain rendering.
type keyFormat struct {
	alias  string
	format func(v slog.Value, color bool) string
}

var prettyKeys = map[string]keyFormat{
	"method": {format: func(v slog.Value, c bool) string {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), c)
	}},
	"path": {format: func(v slog.Value, c bool) string {
		return paint(quoteIfNeeded(strings.TrimSpace(v.String())), ansiCyan, c)
	}},
	"status": {format: func(v slog.Value, c bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), c)
		}
		return ""
	}},
	"status_class": {alias: "class", format: func(v slog.Value, c bool) string {
		return colorizeStatusClass(strings.TrimSpace(v.String()), c)
	}},
	"duration_ms": {alias: "duration", format: func(v slog.Value, c bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, c)
		}
		return ""
	}},
	"result": {format: func(v slog.Value, c bool) string {
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), c)
	}},
	"state": {format: stateFormat},
	"from":  {format: stateFormat},
	"to":    {format: stateFormat},
	"took_ms": {alias: "took", format: func(v slog.Value, c bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, c)
		}
		return ""
	}},
}

func stateFormat(v slog.Value, c bool) string {
	return colorizeState(strings.ToLower(strings.TrimSpace(v.String())), c)
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("[WARN]", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", ansiMagenta, color)
	default:
		return paint("[INFO]", ansiBlue, color)
	}
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiBlue, color)
	case "POST":
		return paint(m, ansiGreen, color)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, color)
	case code >= 400:
		return paint(s, ansiYellow, color)
	case code >= 300:
		return paint(s, ansiCyan, color)
	default:
		return paint(s, ansiGreen, color)
	}
}

func colorizeStatusClass(class string, color bool) string {
	switch class {
	case "5xx":
		return paint(class, ansiRed, color)
	case "4xx":
		return paint(class, ansiYellow, color)
	case "3xx":
		return paint(class, ansiCyan, color)
	case "2xx":
		return paint(class, ansiGreen, color)
	default:
		return quoteIfNeeded(class)
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success", "ok", "redirect":
		return paint(result, ansiGreen, color)
	case "client_error", "rejected", "reuse":
		return paint(result, ansiYellow, color)
	case "server_error", "error", "failed":
		return paint(result, ansiRed, color)
	default:
		return quoteIfNeeded(result)
	}
}

// colorizeState colors realtime connection states.
func colorizeState(state string, color bool) string {
	switch state {
	case "connected":
		return paint(state, ansiGreen, color)
	case "connecting", "reconnecting":
		return paint(state, ansiYellow, color)
	case "failed":
		return paint(state, ansiRed, color)
	default:
		return paint(quoteIfNeeded(state), ansiDim, color)
	}
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if i := strings.LastIndexByte(k, '.'); i >= 0 {
		k = k[i+1:]
	}
	switch k {
	case "token", "access_token", "refresh_token", "password", "authorization":
		return true
	}
	return false
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
