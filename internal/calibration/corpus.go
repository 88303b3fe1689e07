// Package calibration builds the fixed-length token windows that pruning
// criteria use as forward-pass probes, plus the held-out encodings used for
// perplexity evaluation.
//
// Sampling is deterministic: the same (corpus, nsamples, seed, seqlen,
// tokenizer) inputs always produce the same windows. The random generator is
// constructed locally from the seed, never taken from global state.
package calibration

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Corpus is the closed set of calibration corpora.
type Corpus int

// Known corpora.
const (
	// Wikitext2 is the wikitext-2-raw corpus.
	Wikitext2 Corpus = iota
	// C4 is one shard pair of the allenai/c4 English corpus.
	C4
	// QwenVL is the hook for a vision-language calibration path.
	QwenVL
)

// Errors surfaced by corpus resolution and sampling.
var (
	// ErrUnknownCorpus is returned for corpus names outside the known set.
	ErrUnknownCorpus = errors.New("unknown calibration corpus")

	// ErrCorpusExhausted is returned when rejection sampling cannot find a
	// record longer than seqlen within the retry budget.
	ErrCorpusExhausted = errors.New("calibration corpus exhausted")

	// ErrCorpusTooShort is returned when an encoded corpus has fewer than
	// seqlen+1 tokens, leaving no valid window start.
	ErrCorpusTooShort = errors.New("encoded corpus shorter than sequence length")

	// ErrNoVLCalibration is returned for the vision-language corpus hook,
	// which has no text-only sampling path.
	ErrNoVLCalibration = errors.New("vision-language calibration is not available")
)

// CorpusFromName resolves a corpus by substring match on its name.
// Unrecognized names are a configuration error, never a silent no-op.
func CorpusFromName(name string) (Corpus, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "wikitext2"):
		return Wikitext2, nil
	case strings.Contains(lower, "qwen2.5-vl"):
		return QwenVL, nil
	case strings.Contains(lower, "c4"):
		return C4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCorpus, name)
	}
}

// String returns the corpus name.
func (c Corpus) String() string {
	switch c {
	case Wikitext2:
		return "wikitext2"
	case C4:
		return "c4"
	case QwenVL:
		return "qwen2.5-vl"
	default:
		return "unknown"
	}
}

// Split names one side of a corpus.
type Split int

// Corpus splits.
const (
	// SplitTrain is the calibration side.
	SplitTrain Split = iota
	// SplitEval is the held-out side (test for wikitext2, validation for c4).
	SplitEval
)

// Source yields the ordered raw text records of a corpus split.
// Records are immutable once fetched.
type Source interface {
	Records(corpus Corpus, split Split) ([]string, error)
}

// FileSource reads corpora from a local dataset directory laid out as:
//
//	<dir>/wikitext2/wiki.train.raw        one record per line
//	<dir>/wikitext2/wiki.test.raw
//	<dir>/c4/c4-train.*.json.gz           JSON lines with a "text" field
//	<dir>/c4/c4-validation.*.json.gz
type FileSource struct {
	Dir string
}

// Records implements Source.
func (f *FileSource) Records(corpus Corpus, split Split) ([]string, error) {
	switch corpus {
	case Wikitext2:
		name := "wiki.train.raw"
		if split == SplitEval {
			name = "wiki.test.raw"
		}
		return readLines(filepath.Join(f.Dir, "wikitext2", name))
	case C4:
		pattern := "c4-train.*.json.gz"
		if split == SplitEval {
			pattern = "c4-validation.*.json.gz"
		}
		return readJSONGz(filepath.Join(f.Dir, "c4"), pattern)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoVLCalibration, corpus)
	}
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer file.Close()

	var records []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		records = append(records, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	return records, nil
}

// c4Record is one JSON line of a c4 shard.
type c4Record struct {
	Text string `json:"text"`
}

func readJSONGz(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob corpus shards: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no corpus shard matching %s in %s", pattern, dir)
	}

	var records []string
	for _, path := range matches {
		shard, err := readShard(path)
		if err != nil {
			return nil, err
		}
		records = append(records, shard...)
	}
	return records, nil
}

func readShard(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus shard: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("decompress corpus shard: %w", err)
	}
	defer gz.Close()

	var records []string
	dec := json.NewDecoder(gz)
	for dec.More() {
		var rec c4Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode corpus record: %w", err)
		}
		records = append(records, rec.Text)
	}
	return records, nil
}
