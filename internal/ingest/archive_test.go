package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/corpus/internal/source"
)

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"a/b.xml", "a/b.xml", true},
		{"/abs/c.xml", "abs/c.xml", true},
		{`win\dir\d.xml`, "win/dir/d.xml", true},
		{"a/../b.xml", "b.xml", true},
		{"../escape.xml", "", false},
		{"a/../../escape.xml", "", false},
		{"..", "", false},
		{"./", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryPath(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractArchive(t *testing.T) {
	data := zipBytes(t, map[string][]byte{
		"a.xml":       []byte("<r/>"),
		"sub/b.json":  []byte("{}"),
		"sub/deeper/": nil,
	})
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, extractArchive(zr, dest))
	assert.FileExists(t, filepath.Join(dest, "a.xml"))
	assert.FileExists(t, filepath.Join(dest, "sub", "b.json"))
	assert.DirExists(t, filepath.Join(dest, "sub", "deeper"))

	got, err := os.ReadFile(filepath.Join(dest, "sub", "b.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestExtractArchive_RejectsEscapingEntries(t *testing.T) {
	data := zipBytes(t, map[string][]byte{"../../evil.xml": []byte("<r/>")})
	// The reader may already flag the name as insecure; extraction must
	// refuse it either way.
	zr, _ := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NotNil(t, zr)

	root := t.TempDir()
	dest := filepath.Join(root, "ws")
	err := extractArchive(zr, dest)
	assert.ErrorIs(t, err, errIllegalEntry)
	assert.NoFileExists(t, filepath.Join(root, "evil.xml"))
}

func TestFingerprintFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))
	fp, err := fingerprintFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", fp)

	_, err = fingerprintFile(p + ".missing")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"a.zip":   zipBytes(t, map[string][]byte{"x.xml": []byte("<r/>")}),
		"b.xml":   []byte(`<?xml version="1.0"?><r><x/></r>`),
		"c.json":  []byte(`[{"a": 1}]`),
		"d.csv":   []byte("a,b\n1,2\n3,4\n"),
		"e.csv":   []byte("a;b\n1;2\n"),
		"f.bin":   {0x00, 0x01, 0x02, 0xfe},
		"g.txt":   []byte("plain words"),
		"h.other": []byte(`{"a": 1}`),
	}
	want := map[string]source.Kind{
		"a.zip":   source.KindArchive,
		"b.xml":   source.KindXML,
		"c.json":  source.KindJSON,
		"d.csv":   source.KindCSV,
		"e.csv":   source.KindCSV,
		"f.bin":   source.KindUnknown,
		"g.txt":   source.KindUnknown,
		"h.other": source.KindJSON,
	}
	for name, data := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		kind, mime, err := ClassifyFile(p)
		require.NoError(t, err)
		assert.Equal(t, want[name], kind, name)
		assert.NotEmpty(t, mime)

		kind, _, err = ClassifyReader(bytes.NewReader(data), name)
		require.NoError(t, err)
		assert.Equal(t, want[name], kind, name)
	}
}

func TestWorkspaces(t *testing.T) {
	root := filepath.Join(t.TempDir(), "temp")
	w := NewWorkspaces(root)

	a := w.Dir("egrul/2024/a.zip")
	assert.Equal(t, a, w.Dir("egrul/2024/a.zip"), "stable per logical path")
	assert.NotEqual(t, a, w.Dir("egrul/2024/b.zip"))
	assert.True(t, strings.HasPrefix(a, root))
	assert.Len(t, filepath.Base(a), 16)

	dirs, err := w.List()
	require.NoError(t, err)
	assert.Empty(t, dirs, "missing root lists as empty")

	require.NoError(t, os.MkdirAll(filepath.Join(a, "old"), 0o755))
	require.NoError(t, w.Reset(a))
	entries, err := os.ReadDir(a)
	require.NoError(t, err)
	assert.Empty(t, entries)

	dirs, err = w.List()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, dirs)

	removed, err := w.Remove(a)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = w.Remove(a)
	require.NoError(t, err)
	assert.False(t, removed)
}
