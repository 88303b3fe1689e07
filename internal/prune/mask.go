package prune

import (
	"sort"

	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/parallel"
)

// zeroLowest zeroes the weights of one linear whose scores fall lowest,
// row by row along the input axis. With n,m > 0 it removes the n
// lowest-scoring weights of every m contiguous inputs instead; ratio is
// ignored in that case (N:M fixes the density).
func zeroLowest(lin *model.Linear, scores []float32, ratio float64, n, m int) {
	weights := lin.Weights()
	cfg := parallel.DefaultConfig()

	if n > 0 && m > 0 {
		parallel.For(lin.Out, func(row int) {
			zeroStructuredRow(weights[row*lin.In:(row+1)*lin.In],
				scores[row*lin.In:(row+1)*lin.In], n, m)
		}, cfg)
		return
	}

	k := int(float64(lin.In) * ratio)
	if k <= 0 {
		return
	}
	parallel.For(lin.Out, func(row int) {
		zeroUnstructuredRow(weights[row*lin.In:(row+1)*lin.In],
			scores[row*lin.In:(row+1)*lin.In], k)
	}, cfg)
}

// zeroUnstructuredRow zeroes the k lowest-scoring weights of one row.
func zeroUnstructuredRow(weights, scores []float32, k int) {
	order := argsort(scores)
	for _, idx := range order[:k] {
		weights[idx] = 0
	}
}

// zeroStructuredRow zeroes the n lowest-scoring weights of every m
// contiguous inputs. A trailing partial group is left dense.
func zeroStructuredRow(weights, scores []float32, n, m int) {
	for start := 0; start+m <= len(weights); start += m {
		order := argsort(scores[start : start+m])
		for _, idx := range order[:n] {
			weights[start+idx] = 0
		}
	}
}

// zeroCumulative zeroes the lowest-scoring weights of each row until their
// cumulative score reaches ratio of the row's total score. This is the
// wanda variant selection: rows with flat score mass lose close to ratio of
// their weights, rows dominated by a few large scores lose more.
func zeroCumulative(lin *model.Linear, scores []float32, ratio float64) {
	weights := lin.Weights()
	cfg := parallel.DefaultConfig()
	parallel.For(lin.Out, func(row int) {
		rowScores := scores[row*lin.In : (row+1)*lin.In]
		rowWeights := weights[row*lin.In : (row+1)*lin.In]

		var total float64
		for _, s := range rowScores {
			total += float64(s)
		}
		budget := total * ratio

		var used float64
		for _, idx := range argsort(rowScores) {
			if used += float64(rowScores[idx]); used > budget {
				break
			}
			rowWeights[idx] = 0
		}
	}, cfg)
}

// argsort returns indices ordering values ascending.
func argsort(values []float32) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})
	return order
}
