package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBold    = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// palette paints strings with ANSI codes, or leaves them alone when off.
type palette bool

func (p palette) paint(s, code string) string {
	if !p || code == "" {
		return s
	}
	return code + s + ansiReset
}

// prettyHandler writes one key=value line per record for local runs. The
// request fields written by WithRequestLogging get short names and, with
// color on, are painted by outcome.
type prettyHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	pal    palette

	prefix string // joined WithGroup names, dot-terminated
	attrs  []byte // preformatted WithAttrs output
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: w, mu: new(sync.Mutex), level: slog.LevelInfo, pal: palette(color)}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.WriteString("ts=" + h.pal.paint(ts.Format("15:04:05.000"), ansiDim))
	buf.WriteString(" lvl=" + h.levelTag(r.Level))
	buf.WriteString(" msg=" + h.pal.paint(r.Message, ansiBold))

	if h.source && r.PC != 0 {
		if f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next(); f.File != "" {
			buf.WriteString(" src=" + h.pal.paint(filepath.Base(f.File)+":"+strconv.Itoa(f.Line), ansiDim))
		}
	}

	buf.Write(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	buf.Write(h.attrs)
	for _, a := range attrs {
		h.writeAttr(&buf, h.prefix, a)
	}
	cp := *h
	cp.attrs = buf.Bytes()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, prefix, ga)
		}
		return
	}
	if key == "" {
		return
	}

	key = prefix + key
	if f, ok := requestFields[key]; ok {
		buf.WriteString(" " + f.name + "=" + f.format(h.pal, a.Value))
		return
	}
	buf.WriteString(" " + key + "=" + quoteIfNeeded(plainValue(a.Value)))
}

type levelStyle struct {
	min  slog.Level
	tag  string
	code string
}

// levelStyles is ordered from most to least severe.
var levelStyles = []levelStyle{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return h.pal.paint(s.tag, s.code)
		}
	}
	return h.pal.paint("[DEBUG]", ansiMagenta)
}

type prettyField struct {
	name   string
	format func(palette, slog.Value) string
}

var requestFields = map[string]prettyField{
	"method":       {"method", formatMethod},
	"path":         {"path", func(p palette, v slog.Value) string { return p.paint(v.String(), ansiCyan) }},
	"status":       {"status", formatStatus},
	"status_class": {"class", func(p palette, v slog.Value) string { return p.paint(v.String(), classColor(v.String())) }},
	"duration_ms":  {"duration", formatDurationMS},
	"result":       {"result", formatResult},
}

var methodColors = map[string]string{
	http.MethodGet:    ansiGreen,
	http.MethodPost:   ansiYellow,
	http.MethodPut:    ansiBlue,
	http.MethodPatch:  ansiBlue,
	http.MethodDelete: ansiRed,
}

func formatMethod(p palette, v slog.Value) string {
	m := strings.ToUpper(strings.TrimSpace(v.String()))
	code, ok := methodColors[m]
	if !ok {
		code = ansiMagenta
	}
	return p.paint(m, code)
}

func formatStatus(p palette, v slog.Value) string {
	n, ok := intValue(v)
	if !ok {
		return quoteIfNeeded(plainValue(v))
	}
	return p.paint(strconv.FormatInt(n, 10), classColor(statusClass(int(n))))
}

func classColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	}
	return ""
}

func formatDurationMS(p palette, v slog.Value) string {
	ms, ok := intValue(v)
	if !ok {
		return quoteIfNeeded(plainValue(v))
	}
	code := ansiDim
	switch {
	case ms >= 1000:
		code = ansiRed
	case ms >= 250:
		code = ansiYellow
	}
	return p.paint(strconv.FormatInt(ms, 10)+"ms", code)
}

var resultColors = map[string]string{
	"success":      ansiGreen,
	"redirect":     ansiCyan,
	"client_error": ansiYellow,
	"server_error": ansiRed,
}

func formatResult(p palette, v slog.Value) string {
	r := strings.ToLower(strings.TrimSpace(v.String()))
	return p.paint(r, resultColors[r])
}

func plainValue(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func intValue(v slog.Value) (int64, bool) {
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
	}
	return 0, false
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
