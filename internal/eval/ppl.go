// Package eval computes held-out perplexity for pruned models.
package eval

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// Evaluator scores models on a held-out corpus encoding.
type Evaluator struct {
	sampler *calibration.Sampler
}

// NewEvaluator creates an evaluator drawing its encoding from the given
// sampler.
func NewEvaluator(sampler *calibration.Sampler) *Evaluator {
	return &Evaluator{sampler: sampler}
}

// PPL computes wikitext2 test perplexity: the encoding is cut into
// non-overlapping windows of the model's sequence length, each window is
// scored by the mean cross-entropy of next-token prediction, and the result
// is exp of the mean over all predicted positions. A trailing partial
// window is dropped.
func (e *Evaluator) PPL(m model.Model, tok tokenizer.Tokenizer, _ tensor.Device) (float64, error) {
	return e.Perplexity(m, tok, calibration.Wikitext2)
}

// Perplexity scores the model on the given corpus's evaluation encoding.
func (e *Evaluator) Perplexity(m model.Model, tok tokenizer.Tokenizer, corpus calibration.Corpus) (float64, error) {
	seqlen := m.SeqLen()
	enc, err := e.sampler.EvalEncoding(corpus, seqlen, tok)
	if err != nil {
		return 0, fmt.Errorf("build evaluation encoding: %w", err)
	}

	windows := enc.Len() / seqlen
	if windows == 0 {
		return 0, fmt.Errorf("evaluation encoding has %d tokens, need at least %d", enc.Len(), seqlen)
	}

	var totalNLL float64
	var predicted int
	for w := 0; w < windows; w++ {
		input := enc.IDs[w*seqlen : (w+1)*seqlen]
		mask := enc.Mask[w*seqlen : (w+1)*seqlen]

		logits, err := m.Forward(input, mask)
		if err != nil {
			return 0, fmt.Errorf("evaluation forward %d: %w", w, err)
		}
		nll, n, err := windowNLL(logits, input)
		if err != nil {
			return 0, fmt.Errorf("evaluation window %d: %w", w, err)
		}
		totalNLL += nll
		predicted += n

		slog.Debug("evaluated window", "window", w+1, "windows", windows)
	}

	return math.Exp(totalNLL / float64(predicted)), nil
}

// windowNLL sums the negative log-likelihood of each next token under the
// window's logits. Position t predicts input[t+1], so the last position
// contributes nothing.
func windowNLL(logits *tensor.RawTensor, input []int32) (float64, int, error) {
	seq := len(input)
	shape := logits.Shape()
	if len(shape) != 2 || shape[0] != seq {
		return 0, 0, fmt.Errorf("logits shape %v does not match window length %d", shape, seq)
	}
	vocab := shape[1]
	values := logits.AsFloat32()

	var total float64
	for t := 0; t < seq-1; t++ {
		target := int(input[t+1])
		if target < 0 || target >= vocab {
			return 0, 0, fmt.Errorf("target token %d outside vocabulary of %d", target, vocab)
		}
		row := values[t*vocab : (t+1)*vocab]
		total += -logSoftmax(row, target)
	}
	return total, seq - 1, nil
}

// logSoftmax returns log(softmax(row)[target]) with max subtraction for
// numerical stability.
func logSoftmax(row []float32, target int) float64 {
	max := float64(row[0])
	for _, v := range row[1:] {
		if fv := float64(v); fv > max {
			max = fv
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - max)
	}
	return float64(row[target]) - max - math.Log(sum)
}
