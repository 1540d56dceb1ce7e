package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("archive created", "path", "/tmp/a.zip", "entries", 12)

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "archive created path=/tmp/a.zip entries=12")

	stamp, _, ok := strings.Cut(out, " ")
	require.True(t, ok)
	_, err := time.Parse(time.TimeOnly, stamp)
	assert.NoError(t, err, "line starts with a time: %q", out)
}

func TestHandler_OperationTag(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		want   string
		absent string
	}{
		{
			name: "from WithAttrs",
			log: func(l *slog.Logger) {
				l.With("op", "archive.create", "op_id", "1f0c9a2e-aaaa-bbbb-cccc-0123456789ab").Info("started")
			},
			want:   "[archive.create 1f0c9a2e] started",
			absent: "op_id=",
		},
		{
			name:   "from record",
			log:    func(l *slog.Logger) { l.Info("checked", "op", "verify") },
			want:   "[verify] checked",
			absent: "op=",
		},
		{
			name: "record overrides logger",
			log: func(l *slog.Logger) {
				l.With("op", "outer").Info("inner step", "op", "inner")
			},
			want: "[inner] inner step",
		},
		{
			name: "grouped op stays a key",
			log:  func(l *slog.Logger) { l.WithGroup("g").Info("msg", "op", "x") },
			want: "msg g.op=x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(slog.New(NewHandler(&buf, nil)))
			assert.Contains(t, buf.String(), tt.want)
			if tt.absent != "" {
				assert.NotContains(t, buf.String(), tt.absent)
			}
		})
	}
}

func TestHandler_Values(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"plain string", "abc", "k=abc"},
		{"string with space", "before refactor", `k="before refactor"`},
		{"empty string", "", `k=""`},
		{"duration", 1500 * time.Microsecond, "k=2ms"},
		{"error", errors.New("no space left"), `k="no space left"`},
		{"bool", true, "k=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			slog.New(NewHandler(&buf, nil)).Info("m", "k", tt.value)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, nil)).With("source", "/src")

	logger.Info("message", "local", "val")

	assert.Contains(t, buf.String(), "message source=/src local=val")
}

func TestHandler_Enabled(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	ctx := t.Context()
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestHandler_NoTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, nil)

	require.NoError(t, h.Handle(t.Context(), slog.NewRecord(time.Time{}, slog.LevelInfo, "no time", 0)))
	assert.Equal(t, "INFO  no time\n", buf.String())
}

func TestHandler_TraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	logger.Log(t.Context(), LevelTrace, "entry", "name", "a.txt")

	assert.Contains(t, buf.String(), "TRACE entry name=a.txt")
}

func TestHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, nil)).WithGroup("archive")

	logger.Info("created", "path", "/tmp/a.zip", slog.Group("stats", "files", 3))

	assert.Contains(t, buf.String(), "archive.path=/tmp/a.zip")
	assert.Contains(t, buf.String(), "archive.stats.files=3")
}
