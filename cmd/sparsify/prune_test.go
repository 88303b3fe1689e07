package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPruneTestCmd builds a fresh command per test so flag state never
// leaks between cases.
func newPruneTestCmd(t *testing.T, args []string) *cobra.Command {
	t.Helper()
	cmd := newPruneCommand()
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigFromFlagsDefaults(t *testing.T) {
	cmd := newPruneTestCmd(t, nil)

	cfg, err := configFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, "magnitude", cfg.PruneMethod)
	assert.Equal(t, "unstructured", cfg.SparsityType)
	assert.Equal(t, -1, cfg.LayerNo)
	assert.Equal(t, 128, cfg.NSamples)
	assert.Equal(t, "llm_weights", cfg.CacheDir)
	assert.Zero(t, cfg.SparsityRatio)
}

func TestConfigFromFlagsExplicit(t *testing.T) {
	cmd := newPruneTestCmd(t, []string{
		"--model", "models/llama-7b",
		"--prune_method", "wanda",
		"--sparsity_ratio", "0.5",
		"--sparsity_type", "2:4",
		"--use_variant",
	})

	cfg, err := configFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, "models/llama-7b", cfg.Model)
	assert.Equal(t, "wanda", cfg.PruneMethod)
	assert.Equal(t, 0.5, cfg.SparsityRatio)
	assert.Equal(t, "2:4", cfg.SparsityType)
	assert.True(t, cfg.UseVariant)
}

func TestConfigFromFlagsRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
model = "models/llama-7b"
prune_method = "sparsegpt"
sparsity_ratio = 0.5
layer_no = 0
seed = 42
`), 0o644))

	cmd := newPruneTestCmd(t, []string{"--config", path})

	cfg, err := configFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, "models/llama-7b", cfg.Model)
	assert.Equal(t, "sparsegpt", cfg.PruneMethod)
	assert.Equal(t, 0.5, cfg.SparsityRatio)
	// layer_no = 0 from the file is a real value, not an omission.
	assert.Equal(t, 0, cfg.LayerNo)
	assert.Equal(t, int64(42), cfg.Seed)
	// Options the file omits keep their flag defaults.
	assert.Equal(t, 128, cfg.NSamples)
	assert.Equal(t, "unstructured", cfg.SparsityType)
}

func TestConfigFromFlagsFlagBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
model = "models/from-file"
prune_method = "sparsegpt"
`), 0o644))

	cmd := newPruneTestCmd(t, []string{
		"--config", path,
		"--prune_method", "gblm",
	})

	cfg, err := configFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, "models/from-file", cfg.Model)
	assert.Equal(t, "gblm", cfg.PruneMethod)
}

func TestConfigFromFlagsBadRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(`model = [`), 0o644))

	cmd := newPruneTestCmd(t, []string{"--config", path})
	_, err := configFromFlags(cmd)
	assert.Error(t, err)
}
