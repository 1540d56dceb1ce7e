package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Attribute keys the handler lifts out of the key=value tail and renders as
// a "[op id]" tag in front of the message.
const (
	OpKey   = "op"
	OpIDKey = "op_id"
)

// opIDLen is how much of an operation id the tag shows.
const opIDLen = 8

// palette holds the colors of one handler. A nil palette means plain text.
type palette struct {
	time, debug, info, warn, err, key, tag *color.Color
}

func newPalette() *palette {
	return &palette{
		time:  color.New(color.FgHiBlack),
		debug: color.New(color.FgMagenta),
		info:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
		key:   color.New(color.FgCyan),
		tag:   color.New(color.FgBlue),
	}
}

// Handler writes one human-readable line per record:
//
//	10:30:00 INFO  [archive.create 1f0c9a2e] archive created path=/a.zip entries=12
//
// Colors are used only when the writer is a color-capable terminal.
type Handler struct {
	level slog.Leveler
	out   io.Writer
	mu    *sync.Mutex
	pal   *palette

	// op and opID come from WithAttrs; records may override them.
	op, opID string
	attrs    []slog.Attr
	groups   []string
}

// NewHandler creates a text handler writing to out.
func NewHandler(out io.Writer, opts *slog.HandlerOptions) *Handler {
	h := &Handler{out: out, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	if SupportsColor(out) {
		h.pal = newPalette()
	}
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats r and writes it with a single Write call.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(h.paint(h.timeColor(), r.Time.Format(time.TimeOnly)))
		buf.WriteByte(' ')
	}
	fmt.Fprintf(&buf, "%-5s ", h.paint(h.levelColor(r.Level), levelName(r.Level)))

	op, opID := h.op, h.opID
	var tail []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if len(h.groups) == 0 {
			switch a.Key {
			case OpKey:
				op = a.Value.String()
				return true
			case OpIDKey:
				opID = a.Value.String()
				return true
			}
		}
		tail = append(tail, a)
		return true
	})

	if tag := opTag(op, opID); tag != "" {
		buf.WriteString(h.paint(h.tagColor(), tag))
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		h.appendAttr(&buf, nil, a)
	}
	for _, a := range tail {
		h.appendAttr(&buf, h.groups, a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *Handler) appendAttr(buf *bytes.Buffer, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := append(append([]string(nil), groups...), a.Key)
		for _, ga := range a.Value.Group() {
			h.appendAttr(buf, sub, ga)
		}
		return
	}

	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	buf.WriteByte(' ')
	buf.WriteString(h.paint(h.keyColor(), key))
	buf.WriteByte('=')
	buf.WriteString(formatValue(a.Value))
}

// WithAttrs returns a new Handler with the given attributes. op and op_id
// become the message tag.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if len(h.groups) == 0 {
			switch a.Key {
			case OpKey:
				n.op = a.Value.Resolve().String()
				continue
			case OpIDKey:
				n.opID = a.Value.Resolve().String()
				continue
			}
		}
		if len(h.groups) > 0 {
			a.Key = strings.Join(h.groups, ".") + "." + a.Key
		}
		n.attrs = append(n.attrs, a)
	}
	return &n
}

// WithGroup returns a new Handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	n.groups = append(append([]string(nil), h.groups...), name)
	return &n
}

func opTag(op, opID string) string {
	if len(opID) > opIDLen {
		opID = opID[:opIDLen]
	}
	switch {
	case op == "" && opID == "":
		return ""
	case opID == "":
		return "[" + op + "]"
	case op == "":
		return "[" + opID + "]"
	default:
		return "[" + op + " " + opID + "]"
	}
}

// formatValue quotes strings that would otherwise be ambiguous in a
// key=value line.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(v.Any())
	}
}

func levelName(l slog.Level) string {
	if l <= LevelTrace {
		return "TRACE"
	}
	return l.String()
}

func (h *Handler) paint(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

func (h *Handler) levelColor(l slog.Level) *color.Color {
	if h.pal == nil {
		return nil
	}
	switch {
	case l >= slog.LevelError:
		return h.pal.err
	case l >= slog.LevelWarn:
		return h.pal.warn
	case l >= slog.LevelInfo:
		return h.pal.info
	default:
		return h.pal.debug
	}
}

func (h *Handler) timeColor() *color.Color {
	if h.pal == nil {
		return nil
	}
	return h.pal.time
}

func (h *Handler) keyColor() *color.Color {
	if h.pal == nil {
		return nil
	}
	return h.pal.key
}

func (h *Handler) tagColor() *color.Color {
	if h.pal == nil {
		return nil
	}
	return h.pal.tag
}
