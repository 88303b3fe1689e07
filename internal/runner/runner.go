// Package runner orchestrates one pruning run end to end: configuration
// validation, model and tokenizer loading, device and corpus selection,
// criterion dispatch, sparsity audit, perplexity evaluation, and result
// persistence. The steps form a linear state machine; each transition is
// logged and the first failure aborts the run.
package runner

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/eval"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/prune"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// Config is the full surface of one pruning run, as assembled from flags
// and the optional run file.
type Config struct {
	// Model is a checkpoint directory or a cached model identifier.
	Model string

	// PruneMethod names the criterion: magnitude, wanda, sparsegpt,
	// gradient, gblm.
	PruneMethod string

	// SparsityRatio is the target fraction of zeroed weights; zero skips
	// the criterion entirely but still audits and evaluates.
	SparsityRatio float64

	// SparsityType is "unstructured" or an N:M pattern.
	SparsityType string

	// LayerNo restricts pruning to one block; -1 prunes all.
	LayerNo int

	// Calibration inputs. A zero SeqLen defers to the model's nominal
	// sequence length.
	NSamples int
	Seed     int64
	SeqLen   int

	// Gradient-criterion inputs.
	GradientPath string
	GradNorm     string
	GradExponent bool
	GradientInv  bool

	// UseVariant enables the wanda cumulative-threshold variant.
	UseVariant bool

	// CacheDir holds downloaded checkpoints keyed by flattened model ID.
	CacheDir string

	// DataDir is the local corpus root (wikitext2/ and c4/ subdirs).
	DataDir string

	// Save is the results directory for log.txt; empty skips persistence.
	Save string

	// SaveModel is the directory for the pruned checkpoint and its
	// tokenizer files; empty skips the model save.
	SaveModel string
}

// Result is the measured outcome of a run.
type Result struct {
	ActualSparsity float64
	Perplexity     float64
	Device         tensor.Device
	Corpus         calibration.Corpus
}

// Dispatcher drives the pruning state machine for one configuration.
type Dispatcher struct {
	cfg     Config
	req     *prune.Request
	sampler *calibration.Sampler

	// Seams for tests; production wiring is model.Load and
	// tokenizer.Resolve.
	load    func(modelID, cacheDir string) (*model.Transformer, *model.Processor, error)
	resolve func(dir string, chain tokenizer.Chain) (*tokenizer.Resolved, error)
}

// New validates the configuration and assembles a dispatcher. Sparsity
// validation happens here, before any model bytes are touched: a bad N:M
// pattern must not cost a checkpoint load.
func New(cfg Config) (*Dispatcher, error) {
	method, err := prune.MethodFromName(cfg.PruneMethod)
	if err != nil {
		return nil, err
	}
	gradNorm, err := prune.GradNormFromName(cfg.GradNorm)
	if err != nil {
		return nil, err
	}

	req := &prune.Request{
		ModelID:       cfg.Model,
		Method:        method,
		SparsityRatio: cfg.SparsityRatio,
		SparsityType:  cfg.SparsityType,
		LayerNo:       cfg.LayerNo,
		NSamples:      cfg.NSamples,
		Seed:          cfg.Seed,
		GradientPath:  cfg.GradientPath,
		GradNorm:      gradNorm,
		GradExponent:  cfg.GradExponent,
		GradientInv:   cfg.GradientInv,
		UseVariant:    cfg.UseVariant,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return &Dispatcher{
		cfg:     cfg,
		req:     req,
		sampler: calibration.NewSampler(&calibration.FileSource{Dir: cfg.DataDir}),
		load:    model.Load,
		resolve: tokenizer.Resolve,
	}, nil
}

// Run executes the state machine and returns the measured result. The
// model is pruned in place; persistence honors cfg.Save and cfg.SaveModel.
func (d *Dispatcher) Run() (*Result, error) {
	slog.Info("run configured",
		"model", d.cfg.Model,
		"method", d.req.Method.String(),
		"sparsity_ratio", d.req.SparsityRatio,
		"sparsity_type", d.cfg.SparsityType,
		"nsamples", d.req.NSamples,
		"seed", d.req.Seed)

	m, _, err := d.load(d.cfg.Model, d.cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	m.Eval()
	d.req.SeqLen = d.cfg.SeqLen
	if d.req.SeqLen <= 0 {
		d.req.SeqLen = m.SeqLen()
	}

	tok, err := d.resolve(m.Dir(), chainFor(m.Family()))
	if err != nil {
		return nil, fmt.Errorf("resolve tokenizer: %w", err)
	}

	dev := model.SelectDevice(d.cfg.Model, m.DeviceMap())
	slog.Info("device selected", "device", dev.String())

	corpus := corpusFor(m.Family())
	slog.Info("corpus selected", "corpus", corpus.String())

	if d.req.SparsityRatio != 0 {
		crit, err := prune.ForMethod(d.req.Method, d.sampler, corpus)
		if err != nil {
			return nil, err
		}
		slog.Info("pruning", "criterion", crit.Name(), "layer", d.req.LayerNo)
		if err := crit.Apply(d.req, m, tok, dev); err != nil {
			return nil, fmt.Errorf("apply %s: %w", crit.Name(), err)
		}
	} else {
		slog.Info("sparsity ratio is zero, skipping pruning")
	}

	actual, err := prune.CheckSparsity(m)
	if err != nil {
		return nil, fmt.Errorf("audit sparsity: %w", err)
	}
	slog.Info("sparsity audited", "actual_sparsity", actual)

	ppl, err := eval.NewEvaluator(d.sampler).PPL(m, tok, dev)
	if err != nil {
		return nil, fmt.Errorf("evaluate perplexity: %w", err)
	}
	slog.Info("perplexity evaluated", "ppl", ppl)

	result := &Result{
		ActualSparsity: actual,
		Perplexity:     ppl,
		Device:         dev,
		Corpus:         corpus,
	}
	if err := d.persist(result, m, tok); err != nil {
		return nil, err
	}
	return result, nil
}

// chainFor maps a model family to its tokenizer resolution chain.
func chainFor(family model.Family) tokenizer.Chain {
	switch family {
	case model.LlavaVLM:
		return tokenizer.ChainLlava
	case model.GenericVLM:
		return tokenizer.ChainVLM
	default:
		return tokenizer.ChainCausal
	}
}

// corpusFor picks the calibration corpus. Only the generic
// vision-to-sequence family gets the dedicated VL set; llava models
// calibrate on c4 like plain causal LMs.
func corpusFor(family model.Family) calibration.Corpus {
	if family == model.GenericVLM {
		return calibration.QwenVL
	}
	return calibration.C4
}
