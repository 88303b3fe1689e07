package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/born-ml/sparsify/internal/runner"
)

var pruneCmd = newPruneCommand()

func newPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune a model checkpoint and report sparsity and perplexity",
		Long: `Prune a transformer checkpoint with one of the supported criteria
(magnitude, wanda, sparsegpt, gradient, gblm), audit the realized sparsity,
and evaluate wikitext2 perplexity of the pruned model.

Options may also be given in a TOML run file via --config; explicit flags
take precedence over file values.`,
		Args: cobra.NoArgs,
		RunE: runPrune,
	}

	f := cmd.Flags()
	f.String("model", "", "Model checkpoint directory or cached identifier")
	f.String("prune_method", "magnitude", "Pruning criterion: magnitude, wanda, sparsegpt, gradient, gblm")
	f.Float64("sparsity_ratio", 0, "Target fraction of zeroed weights; 0 skips pruning")
	f.String("sparsity_type", "unstructured", `Sparsity pattern: "unstructured", "2:4", or "4:8"`)
	f.Int("layer_no", -1, "Restrict pruning to one transformer block; -1 prunes all")
	f.Int("nsamples", 128, "Number of calibration samples")
	f.Int64("seed", 0, "Calibration sampling seed")
	f.Int("seqlen", 0, "Calibration window length; 0 uses the model's nominal length")
	f.String("gradient_path", "", "Precomputed gradient file (.safetensors, .pt) for gradient/gblm")
	f.String("grad_norm", "none", "Gradient accumulator normalization: none, accumulation_norm, 2-norm-sample-dim")
	f.Bool("grad_exponent", false, "Square the gradient factor")
	f.Bool("gradient_inv", false, "Invert the gradient factor")
	f.Bool("use_variant", false, "Use the wanda cumulative-threshold variant")
	f.String("cache_dir", "llm_weights", "Checkpoint cache directory")
	f.String("data_dir", "data", "Local corpus root (wikitext2/ and c4/ subdirectories)")
	f.String("save", "", "Results directory for log.txt")
	f.String("save_model", "", "Directory for the pruned checkpoint and tokenizer")
	f.String("config", "", "TOML run file with the same option names")

	_ = cmd.MarkFlagFilename("gradient_path", "safetensors", "pt", "pth", "bin")
	_ = cmd.MarkFlagFilename("config", "toml")
	return cmd
}

// runFile mirrors the flag surface for TOML run files.
type runFile struct {
	Model         string  `toml:"model"`
	PruneMethod   string  `toml:"prune_method"`
	SparsityRatio float64 `toml:"sparsity_ratio"`
	SparsityType  string  `toml:"sparsity_type"`
	LayerNo       int     `toml:"layer_no"`
	NSamples      int     `toml:"nsamples"`
	Seed          int64   `toml:"seed"`
	SeqLen        int     `toml:"seqlen"`
	GradientPath  string  `toml:"gradient_path"`
	GradNorm      string  `toml:"grad_norm"`
	GradExponent  bool    `toml:"grad_exponent"`
	GradientInv   bool    `toml:"gradient_inv"`
	UseVariant    bool    `toml:"use_variant"`
	CacheDir      string  `toml:"cache_dir"`
	DataDir       string  `toml:"data_dir"`
	Save          string  `toml:"save"`
	SaveModel     string  `toml:"save_model"`
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	if cfg.Model == "" {
		return fmt.Errorf("--model is required")
	}

	d, err := runner.New(cfg)
	if err != nil {
		return err
	}
	result, err := d.Run()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "actual_sparsity\tppl\n%.4f\t%.4f\n",
		result.ActualSparsity, result.Perplexity)
	return nil
}

// configFromFlags assembles the run configuration. Flag values (and their
// defaults) form the base; a TOML run file fills exactly the options it
// defines, and any flag set explicitly on the command line wins over the
// file.
func configFromFlags(cmd *cobra.Command) (runner.Config, error) {
	f := cmd.Flags()

	cfg := runner.Config{}
	cfg.Model, _ = f.GetString("model")
	cfg.PruneMethod, _ = f.GetString("prune_method")
	cfg.SparsityRatio, _ = f.GetFloat64("sparsity_ratio")
	cfg.SparsityType, _ = f.GetString("sparsity_type")
	cfg.LayerNo, _ = f.GetInt("layer_no")
	cfg.NSamples, _ = f.GetInt("nsamples")
	cfg.Seed, _ = f.GetInt64("seed")
	cfg.SeqLen, _ = f.GetInt("seqlen")
	cfg.GradientPath, _ = f.GetString("gradient_path")
	cfg.GradNorm, _ = f.GetString("grad_norm")
	cfg.GradExponent, _ = f.GetBool("grad_exponent")
	cfg.GradientInv, _ = f.GetBool("gradient_inv")
	cfg.UseVariant, _ = f.GetBool("use_variant")
	cfg.CacheDir, _ = f.GetString("cache_dir")
	cfg.DataDir, _ = f.GetString("data_dir")
	cfg.Save, _ = f.GetString("save")
	cfg.SaveModel, _ = f.GetString("save_model")

	path, _ := f.GetString("config")
	if path == "" {
		return cfg, nil
	}

	var file runFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return cfg, fmt.Errorf("read run file %s: %w", path, err)
	}

	// A file value applies only when it is actually present in the file
	// and the corresponding flag was not given explicitly.
	applies := func(key string) bool {
		return md.IsDefined(key) && !f.Changed(key)
	}
	if applies("model") {
		cfg.Model = file.Model
	}
	if applies("prune_method") {
		cfg.PruneMethod = file.PruneMethod
	}
	if applies("sparsity_ratio") {
		cfg.SparsityRatio = file.SparsityRatio
	}
	if applies("sparsity_type") {
		cfg.SparsityType = file.SparsityType
	}
	if applies("layer_no") {
		cfg.LayerNo = file.LayerNo
	}
	if applies("nsamples") {
		cfg.NSamples = file.NSamples
	}
	if applies("seed") {
		cfg.Seed = file.Seed
	}
	if applies("seqlen") {
		cfg.SeqLen = file.SeqLen
	}
	if applies("gradient_path") {
		cfg.GradientPath = file.GradientPath
	}
	if applies("grad_norm") {
		cfg.GradNorm = file.GradNorm
	}
	if applies("grad_exponent") {
		cfg.GradExponent = file.GradExponent
	}
	if applies("gradient_inv") {
		cfg.GradientInv = file.GradientInv
	}
	if applies("use_variant") {
		cfg.UseVariant = file.UseVariant
	}
	if applies("cache_dir") {
		cfg.CacheDir = file.CacheDir
	}
	if applies("data_dir") {
		cfg.DataDir = file.DataDir
	}
	if applies("save") {
		cfg.Save = file.Save
	}
	if applies("save_model") {
		cfg.SaveModel = file.SaveModel
	}
	return cfg, nil
}
