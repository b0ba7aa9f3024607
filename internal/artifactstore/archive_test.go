package artifactstore

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZipDirStreamRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("world"), 0o644))

	rc, total, err := ZipDirStream(src)
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	out, err := os.Create(archivePath)
	require.NoError(t, err)
	n, err := io.Copy(out, rc)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.NoError(t, rc.Close())
	require.Equal(t, n, *total)

	dest := t.TempDir()
	require.NoError(t, ExtractZip(archivePath, dest))

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dest, "nested", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "world", string(gotB))
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	err = ExtractZip(archivePath, dest)
	require.Error(t, err)
}
