package runner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// logFileName is the per-run results file under the save directory.
const logFileName = "log.txt"

// persist writes the run log and, when configured, the pruned checkpoint
// with its tokenizer files.
func (d *Dispatcher) persist(result *Result, m model.Model, tok *tokenizer.Resolved) error {
	if d.cfg.Save != "" {
		if err := writeLog(d.cfg.Save, result); err != nil {
			return err
		}
		slog.Info("results written", "path", filepath.Join(d.cfg.Save, logFileName))
	}

	if d.cfg.SaveModel != "" {
		if err := m.Save(d.cfg.SaveModel); err != nil {
			return fmt.Errorf("save model: %w", err)
		}
		if err := tok.SaveTo(d.cfg.SaveModel); err != nil {
			return fmt.Errorf("save tokenizer: %w", err)
		}
		slog.Info("pruned model saved", "path", d.cfg.SaveModel)
	}
	return nil
}

// writeLog records the audited sparsity and perplexity as one tab-separated
// row under a header.
func writeLog(dir string, result *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create save dir: %w", err)
	}
	content := fmt.Sprintf("actual_sparsity\tppl\n%.4f\t%.4f\n",
		result.ActualSparsity, result.Perplexity)
	if err := os.WriteFile(filepath.Join(dir, logFileName), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", logFileName, err)
	}
	return nil
}
