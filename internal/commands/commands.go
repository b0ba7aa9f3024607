// Package commands implements the Command Builder Registry (§4.7): a
// mapping from simulator name to a CommandBuilder that turns a task's
// extra_params into an ordered sequence of Commands, each enforced through
// a security filter before it ever reaches the Supervisor. Grounded on
// original_source/executer-tracker/executer_tracker/executers/*, one file
// per simulator in the original; here collapsed into one builder per shape
// the registry must support.
package commands

import (
	"github.com/pkg/errors"
)

// MPIOptions mirrors mpi.Options without importing internal/mpi, so this
// package stays buildable independent of the MPI configurator.
type MPIOptions struct {
	Version string
	Options map[string]any
}

// Command is one subprocess invocation a builder produces (§4.7).
type Command struct {
	Argv         []string
	StdinPrompts []string
	IsMPI        bool
	MPIOptions   *MPIOptions
	// Dir is the directory (host path, under the task's working directory)
	// the command should run from inside the container, or "" to use the
	// task's default artifacts directory. Set by ArbitraryCommandsBuilder
	// from Params.CommandsDir; other builders leave it unset.
	Dir string
}

// CommandSpec is one user-supplied command entry for the
// arbitrary_commands builder: extra_params.commands is a list of {cmd,
// prompts, mpi_config} objects, extracted by the handler before Build is
// called (§4.7, grounded on original_source's command.py
// Command.from_dict / MPICommandConfig.from_dict).
type CommandSpec struct {
	Cmd        string
	Prompts    []string
	MPIOptions *MPIOptions
}

// Params is the per-builder context: the task's extra_params payload plus
// the paths and identifiers a builder needs to lay out its command line.
type Params struct {
	WorkingDir     string
	SimDir         string
	ContainerImage string
	ExtraParams    map[string]any
	// ArbitraryCommands-only fields, populated by the handler: CommandsDir
	// is the already-staged destination directory (the sim_dir copytree
	// target), Commands is the parsed extra_params.commands list.
	CommandsDir string
	Commands    []CommandSpec
}

// ParseCommandSpecs extracts extra_params.commands (a list of {cmd,
// prompts, mpi_config} objects) into CommandSpecs for the
// arbitrary_commands builder. Grounded on original_source's command.py
// Command.from_dict / MPICommandConfig.from_dict.
func ParseCommandSpecs(extraParams map[string]any) ([]CommandSpec, error) {
	raw, ok := extraParams["commands"]
	if !ok {
		return nil, errors.New("extra_params.commands is required")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("extra_params.commands must be a list")
	}

	specs := make([]CommandSpec, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.Errorf("extra_params.commands[%d] must be an object", i)
		}
		cmdStr, _ := m["cmd"].(string)
		if cmdStr == "" {
			return nil, errors.Errorf("extra_params.commands[%d].cmd is required", i)
		}

		spec := CommandSpec{Cmd: cmdStr}
		if rawPrompts, ok := m["prompts"].([]any); ok {
			for _, p := range rawPrompts {
				if s, ok := p.(string); ok {
					spec.Prompts = append(spec.Prompts, s)
				}
			}
		}
		if rawMPI, ok := m["mpi_config"].(map[string]any); ok {
			opts := &MPIOptions{}
			if v, ok := rawMPI["version"].(string); ok {
				opts.Version = v
			}
			if rawOpts, ok := rawMPI["options"].(map[string]any); ok {
				opts.Options = rawOpts
			}
			spec.MPIOptions = opts
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, errors.New("extra_params.commands must be non-empty")
	}
	return specs, nil
}

// Builder produces the ordered Commands for one task (§4.7).
type Builder interface {
	Build(p Params) ([]Command, error)
}

// maxArgLen is the security filter's per-element length cap (§4.7).
const maxArgLen = 256

// Registry maps simulator name to Builder.
type Registry struct {
	builders map[string]Builder
	extra    map[string][]string
}

// NewRegistry builds a Registry pre-populated with the standard builder
// set (§4.7, SUPPLEMENTED FEATURES item 1).
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("gromacs", &GromacsBuilder{})
	r.Register("openfoam", &OpenFOAMBuilder{})
	r.Register("splishsplash", &SplishSplashBuilder{})
	r.Register("schism", &SchismBuilder{})
	r.Register("arbitrary_commands", &ArbitraryCommandsBuilder{})
	r.Register("tester", &TesterBuilder{})
	r.Register("dummy", &TesterBuilder{})
	return r
}

// Register adds or overrides the builder for simulator.
func (r *Registry) Register(simulator string, b Builder) {
	r.builders[simulator] = b
}

// ExtendWhitelist adds extra allowed first-argv values for simulator on
// top of the built-in whitelist, sourced from an operator-supplied
// config.WhitelistExtension (§6's COMMAND_BUILDER_CONFIG).
func (r *Registry) ExtendWhitelist(simulator string, extra []string) {
	if r.extra == nil {
		r.extra = make(map[string][]string)
	}
	r.extra[simulator] = append(r.extra[simulator], extra...)
}

// Lookup returns the builder registered for simulator.
func (r *Registry) Lookup(simulator string) (Builder, error) {
	b, ok := r.builders[simulator]
	if !ok {
		return nil, errors.Errorf("no command builder registered for simulator %q", simulator)
	}
	return b, nil
}

// Build resolves simulator's builder and validates every Command it
// produces through the security filter before returning it.
func (r *Registry) Build(simulator string, p Params) ([]Command, error) {
	b, err := r.Lookup(simulator)
	if err != nil {
		return nil, err
	}
	cmds, err := b.Build(p)
	if err != nil {
		return nil, errors.Wrapf(err, "building commands for simulator %q", simulator)
	}
	allowed := append(append([]string{}, whitelist(simulator)...), r.extra[simulator]...)
	for i, c := range cmds {
		if err := validate(c, allowed); err != nil {
			return nil, errors.Wrapf(err, "command %d for simulator %q failed security filter", i, simulator)
		}
	}
	return cmds, nil
}

// whitelist returns the allowed first-argv values for simulator, or nil
// for builders (like arbitrary_commands) that impose no such constraint
// beyond the generic length/non-empty checks.
func whitelist(simulator string) []string {
	switch simulator {
	case "gromacs":
		return []string{"gmx", "gmx_mpi"}
	case "openfoam":
		return []string{"runApplication", "runParallel"}
	case "splishsplash":
		return []string{"SPlisHSPlasH", "python3"}
	case "schism":
		return []string{"schism"}
	case "swash":
		return []string{"swash.exe"}
	case "tester", "dummy":
		return []string{"echo", "sleep", "false", "true"}
	default:
		return nil
	}
}

// validate applies the security filter (§4.7): every argv element and
// every stdin prompt must be non-empty and ≤256 bytes; when allowed is
// non-empty the command's first argv element must be in it.
func validate(c Command, allowed []string) error {
	if len(c.Argv) == 0 {
		return errors.New("command has an empty argv")
	}
	for _, a := range c.Argv {
		if err := checkElement(a); err != nil {
			return errors.Wrap(err, "argv element")
		}
	}
	for _, p := range c.StdinPrompts {
		if err := checkElement(p); err != nil {
			return errors.Wrap(err, "stdin prompt")
		}
	}
	if len(allowed) > 0 && !contains(allowed, c.Argv[0]) {
		return errors.Errorf("argv[0] %q is not in the allowed set %v", c.Argv[0], allowed)
	}
	return nil
}

func checkElement(s string) error {
	if s == "" {
		return errors.New("must be non-empty")
	}
	if len(s) > maxArgLen {
		return errors.Errorf("exceeds maximum length %d (got %d)", maxArgLen, len(s))
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func extraString(p Params, key, def string) string {
	if v, ok := p.ExtraParams[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func extraBool(p Params, key string, def bool) bool {
	if v, ok := p.ExtraParams[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func extraInt(p Params, key string, def int) int {
	if v, ok := p.ExtraParams[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}
