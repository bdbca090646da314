package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		tempDir := t.TempDir()
		// Change permissions to read-only
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		err := os.Chmod(tempDir, 0o500)
		require.NoError(t, err)

		cfg := local.Config{BaseDir: tempDir}
		_, err = local.New(cfg)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		err = os.Chmod(tempDir, 0o700)
		require.NoError(t, err)
	})
}

func TestPutGetExists(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		path := "fda-483-documents/acme_100.pdf"
		data := []byte("%PDF-1.4")
		uri, err := store.Put(ctx, path, "application/pdf", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		got, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		ok, err := store.Exists(ctx, path)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = os.Stat(filepath.Join(tempDir, path) + ".part")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Missing", func(t *testing.T) {
		ok, err := store.Exists(ctx, "nope.pdf")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Get(ctx, "nope.pdf")
		assert.ErrorIs(t, err, inspection.ErrNotFound)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.Put(ctx, "", "application/pdf", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.Put(ctx, "../escape.pdf", "application/pdf", []byte("data"))
		assert.Error(t, err)
		_, err = store.Get(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})
}

func TestObjectPathRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	uri, err := store.Put(context.Background(), "pdfs/3003123456/483_acme.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	path, err := store.ObjectPath(uri)
	require.NoError(t, err)
	assert.Equal(t, "pdfs/3003123456/483_acme.pdf", path)

	_, err = store.ObjectPath("https://storage.googleapis.com/bucket/pdfs/a.pdf")
	assert.Error(t, err)
	_, err = store.ObjectPath("file://" + filepath.Join(filepath.Dir(tempDir), "elsewhere.pdf"))
	assert.Error(t, err)
}
