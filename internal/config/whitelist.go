package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// WhitelistExtension augments the built-in per-simulator command whitelist
// (internal/commands) without a rebuild, loaded from an optional TOML file
// named by CommandBuilderConfigPath.
type WhitelistExtension struct {
	// Simulators maps a simulator name to additional first-argv-element
	// values (matched exactly) accepted for that builder, on top of the
	// built-in list.
	Simulators map[string][]string `toml:"simulators"`
}

// LoadWhitelistExtension reads path, returning an empty extension if path
// is empty (no file configured).
func LoadWhitelistExtension(path string) (*WhitelistExtension, error) {
	if path == "" {
		return &WhitelistExtension{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "command builder config %q", path)
	}

	var ext WhitelistExtension
	if _, err := toml.DecodeFile(path, &ext); err != nil {
		return nil, errors.Wrapf(err, "decoding command builder config %q", path)
	}
	return &ext, nil
}
