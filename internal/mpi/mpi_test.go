package mpi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeBin(t *testing.T, dir, version string) {
	t.Helper()
	path := filepath.Join(dir, version, "bin", "mpirun")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestAvailableVersions(t *testing.T) {
	root := t.TempDir()
	makeBin(t, root, "4.1.4")
	makeBin(t, root, "3.1.6")

	c := New(Config{MpirunBinTemplate: filepath.Join(root, "%s", "bin", "mpirun")})
	versions, err := c.AvailableVersions()
	require.NoError(t, err)
	require.Equal(t, []string{"3.1.6", "4.1.4"}, versions)
}

func TestPrefixUsesDefaultVersionAndHostfile(t *testing.T) {
	root := t.TempDir()
	makeBin(t, root, "4.1.4")

	c := New(Config{
		DefaultVersion:    "4.1.4",
		HostfilePath:      "/etc/mpi/hostfile",
		ExtraArgs:         []string{"--oversubscribe"},
		MpirunBinTemplate: filepath.Join(root, "%s", "bin", "mpirun"),
	})

	prefix, err := c.Prefix(Options{Options: map[string]any{"np": 4, "bind-to": false, "verbose": true}})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "4.1.4", "bin", "mpirun"),
		"--hostfile", "/etc/mpi/hostfile",
		"--oversubscribe",
		"--np", "4",
		"--verbose",
	}, prefix)
}

func TestPrefixUnknownVersionListsAvailable(t *testing.T) {
	root := t.TempDir()
	makeBin(t, root, "4.1.4")

	c := New(Config{MpirunBinTemplate: filepath.Join(root, "%s", "bin", "mpirun")})
	_, err := c.Prefix(Options{Version: "5.0.0"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "4.1.4")
}

func TestPrefixWithoutTemplateFallsBackToBareMpirun(t *testing.T) {
	c := New(Config{})
	prefix, err := c.Prefix(Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"mpirun"}, prefix)
}
