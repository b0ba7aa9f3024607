package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGromacsBuilderRequiresInputDeck(t *testing.T) {
	_, err := (GromacsBuilder{}).Build(Params{SimDir: "/sim"})
	require.Error(t, err)
}

func TestGromacsBuilderProducesMdrunByDefault(t *testing.T) {
	cmds, err := (GromacsBuilder{}).Build(Params{
		SimDir:      "/sim",
		ExtraParams: map[string]any{"input_deck": "topol"},
	})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, []string{"gmx", "mdrun", "-deffnm", "/sim/topol"}, cmds[0].Argv)
	require.False(t, cmds[0].IsMPI)
}

func TestOpenFOAMBuilderDispatchesRunParallelUnderMPI(t *testing.T) {
	cmds, err := (OpenFOAMBuilder{}).Build(Params{
		SimDir: "/sim",
		ExtraParams: map[string]any{
			"application":   "simpleFoam",
			"use_mpi":       true,
			"num_processes": 8,
		},
	})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, "runParallel", cmds[0].Argv[0])
	require.True(t, cmds[0].IsMPI)
	require.Equal(t, 8, cmds[0].MPIOptions.Options["np"])
}

func TestOpenFOAMBuilderUsesRunApplicationWithoutMPI(t *testing.T) {
	cmds, err := (OpenFOAMBuilder{}).Build(Params{
		SimDir:      "/sim",
		ExtraParams: map[string]any{"application": "blockMesh"},
	})
	require.NoError(t, err)
	require.Equal(t, "runApplication", cmds[0].Argv[0])
	require.False(t, cmds[0].IsMPI)
}

func TestSplishSplashBuilderIsAPipeline(t *testing.T) {
	cmds, err := (SplishSplashBuilder{}).Build(Params{
		SimDir:      "/sim",
		ExtraParams: map[string]any{"scene_file": "scene.json", "export_partio": true},
	})
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	require.Equal(t, "python3", cmds[0].Argv[0])
	require.Equal(t, "SPlisHSPlasH", cmds[1].Argv[0])
	require.Equal(t, "python3", cmds[2].Argv[0])
}

func TestSchismBuilderRejectsTooManyScribes(t *testing.T) {
	b := SchismBuilder{Options: SchismOptions{Scribes: 4}}
	_, err := b.Build(Params{ExtraParams: map[string]any{"num_processes": 4}})
	require.Error(t, err)
}

func TestSchismBuilderUsesPluralScribesField(t *testing.T) {
	b := SchismBuilder{Options: SchismOptions{Scribes: 2}}
	cmds, err := b.Build(Params{ExtraParams: map[string]any{"num_processes": 8}})
	require.NoError(t, err)
	require.Equal(t, []string{"schism", "2"}, cmds[0].Argv)
	require.True(t, cmds[0].IsMPI)
}

type fakeLogger struct{ lines []string }

func (f *fakeLogger) Log(line string) { f.lines = append(f.lines, line) }

func TestNewSwashBuilderRequiresLogger(t *testing.T) {
	_, err := NewSwashBuilder(nil)
	require.Error(t, err)
}

func TestSwashBuilderLogsAndBuilds(t *testing.T) {
	logger := &fakeLogger{}
	b, err := NewSwashBuilder(logger)
	require.NoError(t, err)

	cmds, err := b.Build(Params{ExtraParams: map[string]any{"input_file": "swash.inp", "num_processes": 4}})
	require.NoError(t, err)
	require.Len(t, logger.lines, 1)
	require.Equal(t, []string{"swash.exe", "swash.inp"}, cmds[0].Argv)
	require.True(t, cmds[0].IsMPI)
}

func TestArbitraryCommandsBuilderRequiresCommands(t *testing.T) {
	_, err := (ArbitraryCommandsBuilder{}).Build(Params{})
	require.Error(t, err)
}

func TestTesterBuilderFailsWhenRequested(t *testing.T) {
	cmds, err := (TesterBuilder{}).Build(Params{ExtraParams: map[string]any{"fail": true}})
	require.NoError(t, err)
	require.Equal(t, []string{"false"}, cmds[0].Argv)
}

func TestRegistryBuildPassesTesterDefaultsThroughSecurityFilter(t *testing.T) {
	r := NewRegistry()
	cmds, err := r.Build("tester", Params{})
	require.NoError(t, err)
	require.NotEmpty(t, cmds)
}
