package corrupt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/snap/internal/archive"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/testutil"
	"github.com/thoreinstein/snap/internal/verify"
)

// newArchive builds a real archive of a small tree and returns its path.
func newArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(src, 0o755))
	for rel, content := range files {
		path := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	b := archive.NewBuilder(filepath.Join(t.TempDir(), "archives"),
		archive.WithClock(testutil.FixedClock()),
		archive.WithLogger(logging.ForTest(t)))
	out, err := b.Create(context.Background(), archive.Request{Source: src})
	require.NoError(t, err)
	return out.Path
}

func sampleArchive(t *testing.T) string {
	return newArchive(t, map[string]string{
		"README.md":      strings.Repeat("snapshot engine readme\n", 64),
		"src/main.go":    strings.Repeat("package main\n\nfunc main() {}\n", 32),
		"docs/guide.txt": strings.Repeat("step by step\n", 48),
	})
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newInjector(t *testing.T) *Injector {
	t.Helper()
	in := NewInjector(WithLogger(logging.ForTest(t)))
	t.Cleanup(func() { _ = in.Close() })
	return in
}

func TestInspect_Intact(t *testing.T) {
	for name, path := range map[string]string{
		"sample": sampleArchive(t),
		"empty":  newArchive(t, nil),
	} {
		t.Run(name, func(t *testing.T) {
			report, err := Detect(path)
			require.NoError(t, err)
			assert.True(t, report.Clean(), "findings: %+v", report.Findings)
			assert.False(t, report.Fatal())
		})
	}
}

func TestApplyRestore_RoundTrip(t *testing.T) {
	for _, typ := range AllTypes {
		t.Run(string(typ), func(t *testing.T) {
			path := sampleArchive(t)
			original := readFile(t, path)
			in := newInjector(t)

			rec, err := in.Apply(path, Config{Type: typ, Seed: 7, Severity: 0.5})
			require.NoError(t, err)
			assert.NotEqual(t, original, readFile(t, path))
			assert.Equal(t, typ, rec.Type)
			assert.Equal(t, rec.Size, len(rec.OriginalBytes))
			assert.Len(t, in.Outstanding(), 1)

			require.NoError(t, in.Restore(rec))
			assert.Equal(t, original, readFile(t, path))
			assert.Empty(t, in.Outstanding())
		})
	}
}

func TestApply_Deterministic(t *testing.T) {
	for _, typ := range AllTypes {
		t.Run(string(typ), func(t *testing.T) {
			first := sampleArchive(t)
			data := readFile(t, first)
			second := filepath.Join(t.TempDir(), filepath.Base(first))
			require.NoError(t, os.WriteFile(second, data, 0o644))

			in := newInjector(t)
			cfg := Config{Type: typ, Seed: 1234, Severity: 0.25}
			r1, err := in.Apply(first, cfg)
			require.NoError(t, err)
			r2, err := in.Apply(second, cfg)
			require.NoError(t, err)

			assert.Equal(t, readFile(t, first), readFile(t, second))
			assert.Equal(t, r1.Offset, r2.Offset)
			assert.Equal(t, r1.OriginalBytes, r2.OriginalBytes)
		})
	}
}

func TestDetect_Accuracy(t *testing.T) {
	for _, typ := range AllTypes {
		t.Run(string(typ), func(t *testing.T) {
			path := sampleArchive(t)
			in := newInjector(t)

			_, err := in.Apply(path, Config{Type: typ, Seed: 42, Severity: 0.5})
			require.NoError(t, err)

			report, err := Detect(path)
			require.NoError(t, err)
			assert.Equal(t, []Type{typ}, report.Types(), "findings: %+v", report.Findings)
			assert.Equal(t, typ.Fatal(), report.Fatal())
		})
	}
}

func TestDetect_MinimalDamage(t *testing.T) {
	for _, typ := range AllTypes {
		t.Run(string(typ), func(t *testing.T) {
			path := sampleArchive(t)
			in := newInjector(t)

			cfg := Config{Type: typ, Seed: 3}
			if typ == TypePayload {
				// Past the deflate block header, inside coded data.
				inside := 5
				cfg.Offset = &inside
			}
			rec, err := in.Apply(path, cfg)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Size)

			report, err := Detect(path)
			require.NoError(t, err)
			assert.True(t, report.Has(typ), "findings: %+v", report.Findings)
		})
	}
}

func TestVerifier_FlagsDamage(t *testing.T) {
	v := verify.New(verify.WithLogger(logging.ForTest(t)))

	for _, typ := range AllTypes {
		t.Run(string(typ), func(t *testing.T) {
			path := sampleArchive(t)
			in := newInjector(t)

			err := in.Guard(path, Config{Type: typ, Seed: 99, Severity: 0.5}, func(*Record) {
				status, err := v.Verify(context.Background(), path, true)
				require.NoError(t, err)
				if typ == TypeComment {
					assert.True(t, status.IsVerified, "comment damage is recoverable: %v", status.Errors)
				} else {
					assert.False(t, status.IsVerified, "%s damage went unnoticed", typ)
				}
			})
			require.NoError(t, err)

			status, err := v.Verify(context.Background(), path, true)
			require.NoError(t, err)
			assert.True(t, status.IsVerified)
			assert.True(t, status.ChecksumsVerified)
		})
	}
}

func TestGuard_RestoresAfterPanic(t *testing.T) {
	path := sampleArchive(t)
	original := readFile(t, path)
	in := newInjector(t)

	assert.PanicsWithValue(t, "test blew up", func() {
		_ = in.Guard(path, Config{Type: TypeCentralDirectory, Seed: 1, Severity: 1}, func(*Record) {
			panic("test blew up")
		})
	})

	assert.Equal(t, original, readFile(t, path))
	assert.Empty(t, in.Outstanding())
}

func TestApply_ExplicitOffset(t *testing.T) {
	path := sampleArchive(t)
	in := newInjector(t)

	whole, err := in.Apply(path, Config{Type: TypeComment, Seed: 5, Severity: 1})
	require.NoError(t, err)
	require.NoError(t, in.Restore(whole))

	offset := 3
	rec, err := in.Apply(path, Config{Type: TypeComment, Seed: 5, Size: 2, Offset: &offset})
	require.NoError(t, err)
	assert.Equal(t, whole.Offset+3, rec.Offset)
	assert.Equal(t, 2, rec.Size)
}

func TestApply_TruncationAtOffset(t *testing.T) {
	path := sampleArchive(t)
	original := readFile(t, path)
	in := newInjector(t)

	cut := 100
	rec, err := in.Apply(path, Config{Type: TypeTruncation, Offset: &cut})
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Offset)
	assert.Equal(t, original[100:], rec.OriginalBytes)
	assert.Len(t, readFile(t, path), 100)
}

func TestClose_RestoresOutstanding(t *testing.T) {
	path := sampleArchive(t)
	original := readFile(t, path)
	in := NewInjector(WithLogger(logging.ForTest(t)))

	_, err := in.Apply(path, Config{Type: TypeComment, Seed: 1, Severity: 0.5})
	require.NoError(t, err)
	_, err = in.Apply(path, Config{Type: TypeLocalHeader, Seed: 2, Severity: 1})
	require.NoError(t, err)
	require.Len(t, in.Outstanding(), 2)

	require.NoError(t, in.Close())
	assert.Equal(t, original, readFile(t, path))
	assert.Empty(t, in.Outstanding())
}

func TestClose_FallsBackToFullCopy(t *testing.T) {
	path := sampleArchive(t)
	original := readFile(t, path)
	in := NewInjector(WithLogger(logging.ForTest(t)))

	_, err := in.Apply(path, Config{Type: TypeTruncation, Severity: 0.5})
	require.NoError(t, err)

	// Something else rewrites the damaged file, so the record no longer
	// lines up.
	require.NoError(t, os.WriteFile(path, []byte("overwritten"), 0o644))

	require.NoError(t, in.Close())
	assert.Equal(t, original, readFile(t, path))
}

func TestApply_Errors(t *testing.T) {
	path := sampleArchive(t)
	empty := newArchive(t, nil)
	far := 1 << 20

	tests := []struct {
		name string
		path string
		cfg  Config
	}{
		{name: "unknown type", path: path, cfg: Config{Type: "gamma_ray"}},
		{name: "severity too high", path: path, cfg: Config{Type: TypeComment, Severity: 1.5}},
		{name: "negative size", path: path, cfg: Config{Type: TypeComment, Size: -1}},
		{name: "offset outside region", path: path, cfg: Config{Type: TypeSignature, Offset: &far}},
		{name: "no entries", path: empty, cfg: Config{Type: TypeChecksum}},
		{name: "missing file", path: filepath.Join(t.TempDir(), "none.zip"), cfg: Config{Type: TypeComment}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInjector(t)
			before, _ := os.ReadFile(tt.path)

			_, err := in.Apply(tt.path, tt.cfg)
			require.Error(t, err)
			assert.True(t, snaperrors.Is(err, snaperrors.KindCorruptionInjectionFailed), "got %v", err)

			after, _ := os.ReadFile(tt.path)
			assert.Equal(t, before, after)
		})
	}
}

func TestType_Fatal(t *testing.T) {
	fatal := map[Type]bool{
		TypeSignature:        true,
		TypeCentralDirectory: true,
		TypeTruncation:       true,
	}
	for _, typ := range AllTypes {
		assert.Equal(t, fatal[typ], typ.Fatal(), string(typ))
	}

	_, err := ParseType("payload")
	assert.NoError(t, err)
	_, err = ParseType("nope")
	assert.Error(t, err)
}
