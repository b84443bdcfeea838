package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/files/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "user-1/job-1/out.png", []byte("pixels"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/user-1/job-1/out.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "user-1", "job-1", "out.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)

	key := store.KeyFromURL(url)
	assert.Equal(t, "user-1/job-1/out.png", key)

	require.NoError(t, store.Delete(context.Background(), []string{key}))
	_, err = os.Stat(filepath.Join(dir, "user-1", "job-1", "out.png"))
	assert.True(t, os.IsNotExist(err))

	// Deleting an already-missing key is not an error.
	require.NoError(t, store.Delete(context.Background(), []string{key}))
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"a/b/c.png", "a/b/c.png", false},
		{"/leading/slash.png", "leading/slash.png", false},
		{"./dotted.png", "dotted.png", false},
		{"../escape.png", "", true},
		{"a/../../escape.png", "", true},
		{"", "", true},
		{"   ", "", true},
	}

	for _, tt := range tests {
		got, err := sanitizeKey(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "key %q", tt.input)
		} else {
			require.NoError(t, err, "key %q", tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestNewFileStoreRequiresBasePath(t *testing.T) {
	_, err := NewFileStore("", "http://localhost")
	assert.Error(t, err)
}
