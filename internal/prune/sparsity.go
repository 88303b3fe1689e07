package prune

import (
	"fmt"

	"github.com/born-ml/sparsify/internal/model"
)

// CheckSparsity audits the realized sparsity over every prunable weight:
// the fraction of exact zeros across the model's linear projections.
// Criteria aim for the requested ratio; a large gap here means a criterion
// failed, but the audit itself never fails the run.
func CheckSparsity(m model.Model) (float64, error) {
	accessor, ok := m.(model.LayerAccessor)
	if !ok {
		return 0, fmt.Errorf("model does not expose prunable layers")
	}

	var zeros, total int64
	for _, layer := range accessor.Layers() {
		for _, lin := range layer.Linears() {
			for _, w := range lin.Weights() {
				if w == 0 {
					zeros++
				}
			}
			total += int64(len(lin.Weights()))
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("model has no prunable weights")
	}
	return float64(zeros) / float64(total), nil
}
