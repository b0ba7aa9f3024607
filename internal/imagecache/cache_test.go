package imagecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inductiva/task-runner/internal/types"
)

type fakePuller struct {
	calls int
}

func (f *fakePuller) Pull(_ context.Context, localPath, _ string) error {
	f.calls++
	return os.WriteFile(localPath, []byte("fake-sif-contents"), 0o644)
}

func TestLocalFileNameDeterministicAndDistinguishesReferences(t *testing.T) {
	a := LocalFileName("docker://ubuntu:22.04")
	b := LocalFileName("docker://ubuntu:22.04")
	c := LocalFileName("inductiva://bucket/path/img")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, filepath.Ext(a) == ".sif")
}

func TestGetIsIdempotentAfterPull(t *testing.T) {
	dir := t.TempDir()
	puller := &fakePuller{}
	cache := New(dir, "", puller)

	entry1, err := cache.Get(context.Background(), "docker://ubuntu:22.04")
	require.NoError(t, err)
	require.Equal(t, types.ImageSourceHub, entry1.Source)
	require.Equal(t, 1, puller.calls)

	entry2, err := cache.Get(context.Background(), "docker://ubuntu:22.04")
	require.NoError(t, err)
	require.Equal(t, types.ImageSourceLocal, entry2.Source)
	require.Equal(t, 0.0, entry2.ElapsedS)
	require.Equal(t, 1, puller.calls, "second Get must not invoke the puller again")
	require.Equal(t, entry1.LocalPath, entry2.LocalPath)
}

func TestGetFailsWithImageNotFoundWhenNoPuller(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir, "", nil)

	_, err := cache.Get(context.Background(), "docker://missing:latest")
	require.ErrorIs(t, err, ErrImageNotFound)
}
