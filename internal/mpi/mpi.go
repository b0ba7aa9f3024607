// Package mpi implements the MPI Configurator (§4.8): from cluster,
// hostfile, version, and extra-args configuration, produces the mpirun
// prefix for MPI-flagged commands. Grounded on
// original_source/executer-tracker/executer_tracker/executers/mpi_configuration.py.
package mpi

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Config holds the configurator's inputs, sourced from the MPI_* env vars
// (§6).
type Config struct {
	DefaultVersion    string
	HostfilePath      string
	SharePath         string
	ExtraArgs         []string
	MpirunBinTemplate string // e.g. "/opt/mpi/%s/bin/mpirun"
	IsCluster         bool
	NumHosts          int
	LocalMode         bool
}

// Options is the per-command MPI override (§4.7's Command.mpi_options).
type Options struct {
	Version string
	Options map[string]any // e.g. {"np": 4, "bind-to": "core"}
}

// Configurator builds mpirun prefixes.
type Configurator struct {
	cfg Config
}

// New builds a Configurator from cfg.
func New(cfg Config) *Configurator {
	return &Configurator{cfg: cfg}
}

// AvailableVersions discovers installed MPI versions by globbing
// MpirunBinTemplate, substituting "*" for the version placeholder.
func (c *Configurator) AvailableVersions() ([]string, error) {
	if c.cfg.MpirunBinTemplate == "" {
		return nil, nil
	}
	pattern := fmt.Sprintf(c.cfg.MpirunBinTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "globbing mpirun binaries with pattern %q", pattern)
	}

	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		versions = append(versions, extractVersion(c.cfg.MpirunBinTemplate, m))
	}
	sort.Strings(versions)
	return versions, nil
}

// extractVersion reverses the template substitution to recover the
// version component of a matched path.
func extractVersion(template, match string) string {
	prefix := template[:strings.Index(template, "%s")]
	suffix := template[strings.Index(template, "%s")+2:]
	v := strings.TrimPrefix(match, prefix)
	v = strings.TrimSuffix(v, suffix)
	return v
}

// mpirunBin resolves the mpirun binary path for a version, defaulting to
// DefaultVersion when version is empty, and failing with the list of
// available versions when the requested one is not installed.
func (c *Configurator) mpirunBin(version string) (string, error) {
	if version == "" {
		version = c.cfg.DefaultVersion
	}
	if c.cfg.MpirunBinTemplate == "" {
		return "mpirun", nil
	}

	bin := fmt.Sprintf(c.cfg.MpirunBinTemplate, version)

	available, err := c.AvailableVersions()
	if err != nil {
		return "", err
	}
	for _, v := range available {
		if v == version {
			return bin, nil
		}
	}
	return "", errors.Errorf("requested MPI version %q not available; available versions: %v", version, available)
}

// Prefix produces the mpirun argv prefix for an MPI-flagged command:
// [mpirun_bin(version), "--hostfile", hostfile?] ++ extra_args ++
// user_options (§4.8).
func (c *Configurator) Prefix(opts Options) ([]string, error) {
	bin, err := c.mpirunBin(opts.Version)
	if err != nil {
		return nil, err
	}

	prefix := []string{bin}

	if c.cfg.HostfilePath != "" {
		prefix = append(prefix, "--hostfile", c.cfg.HostfilePath)
	}

	prefix = append(prefix, c.cfg.ExtraArgs...)
	prefix = append(prefix, flattenOptions(opts.Options)...)

	return prefix, nil
}

// flattenOptions renders a user_options map into "--key value" (or bare
// "--key" for boolean true) pairs, in stable key order.
func flattenOptions(options map[string]any) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		switch v := options[k].(type) {
		case bool:
			if v {
				out = append(out, "--"+k)
			}
		default:
			out = append(out, "--"+k, fmt.Sprintf("%v", v))
		}
	}
	return out
}
