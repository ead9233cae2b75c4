package reorg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateDir(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"EGRUL_2024-01-02.zip", "02.01.2024", true},
		{"EGRIP_2023-12-31_part2.zip", "31.12.2023", true},
		{"_2020-05-06", "06.05.2020", true},
		{"EGRUL-2024-01-02.zip", "", false},
		{"notes.txt", "", false},
		{"EGRUL_24-01-02.zip", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DateDir(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnsort(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "!UNSORT")
	require.NoError(t, os.MkdirAll(filepath.Join(inbox, "nested"), 0o755))
	for _, name := range []string{"EGRUL_2024-01-02.zip", "EGRUL_2024-01-02_b.zip", "EGRUL_2024-02-10.zip", "readme.txt", "EGRUL_2024-03-03.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(inbox, name), []byte(name), 0o644))
	}
	// An existing destination is never overwritten.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "03.03.2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "03.03.2024", "EGRUL_2024-03-03.zip"), []byte("kept"), 0o644))

	rep, err := Unsort(context.Background(), dir, "!UNSORT", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"EGRUL_2024-01-02.zip", "EGRUL_2024-01-02_b.zip", "EGRUL_2024-02-10.zip"}, rep.Moved)
	assert.ElementsMatch(t, []string{"nested", "readme.txt", "EGRUL_2024-03-03.zip"}, rep.Left)

	got, err := os.ReadFile(filepath.Join(dir, "02.01.2024", "EGRUL_2024-01-02_b.zip"))
	require.NoError(t, err)
	assert.Equal(t, "EGRUL_2024-01-02_b.zip", string(got))
	assert.FileExists(t, filepath.Join(dir, "10.02.2024", "EGRUL_2024-02-10.zip"))
	assert.NoFileExists(t, filepath.Join(inbox, "EGRUL_2024-02-10.zip"))
	assert.FileExists(t, filepath.Join(inbox, "readme.txt"))

	kept, err := os.ReadFile(filepath.Join(dir, "03.03.2024", "EGRUL_2024-03-03.zip"))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(kept))
}

func TestUnsort_MissingInbox(t *testing.T) {
	_, err := Unsort(context.Background(), t.TempDir(), "!UNSORT", nil)
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "a")
	to := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(from, []byte("data"), 0o600))
	require.NoError(t, copyFile(from, to))
	got, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	assert.Error(t, copyFile(from, to), "an existing target is not truncated")
}
