// Grounded on
// original_source/executer-tracker/executer_tracker/executers/test_code_injection.py:
// asserts the security filter rejects shell metacharacters and
// oversized/empty elements smuggled through extra_params, regardless of
// which builder produced them.
package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptyArgvElement(t *testing.T) {
	err := validate(Command{Argv: []string{"gmx", ""}}, nil)
	require.Error(t, err)
}

func TestValidateRejectsOversizedArgvElement(t *testing.T) {
	long := strings.Repeat("a", maxArgLen+1)
	err := validate(Command{Argv: []string{"gmx", long}}, nil)
	require.Error(t, err)
}

func TestValidateRejectsArgvOutsideWhitelist(t *testing.T) {
	err := validate(Command{Argv: []string{"rm", "-rf", "/"}}, []string{"gmx"})
	require.Error(t, err)
}

func TestValidateAllowsWhitelistedArgv(t *testing.T) {
	err := validate(Command{Argv: []string{"gmx", "mdrun"}}, []string{"gmx"})
	require.NoError(t, err)
}

// Shell metacharacters are not special-cased: argv elements are passed
// directly to exec, never through a shell, so "; rm -rf / #" is just an
// oversized or out-of-whitelist string like any other.
func TestRegistryRejectsInjectionAttemptViaExtraParams(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("gromacs", Params{
		ExtraParams: map[string]any{
			"command":    "mdrun; rm -rf / #",
			"input_deck": "topol",
		},
	})
	require.Error(t, err)
}

func TestRegistryRejectsUnknownSimulator(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("not-a-real-simulator", Params{})
	require.Error(t, err)
}

func TestArbitraryCommandsNeverInvokesAShell(t *testing.T) {
	r := NewRegistry()
	cmds, err := r.Build("arbitrary_commands", Params{
		Commands: []CommandSpec{{Cmd: "echo hello && rm -rf /"}},
	})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	// The whole "&& rm -rf /" text is tokenized as literal argv elements
	// of a single "echo" invocation, not parsed as a shell control
	// operator.
	require.Equal(t, []string{"echo", "hello", "&&", "rm", "-rf", "/"}, cmds[0].Argv)
}
