package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// crossEntropy is the negative log-likelihood of label under a softmax over
// the (1, classes) logits row, computed with log-sum-exp.
func crossEntropy(logits *mat.Dense, label int) (float64, error) {
	_, c := logits.Dims()
	if label < 0 || label >= c {
		return 0, fmt.Errorf("label %d outside [0,%d)", label, c)
	}
	row := logits.RawRowView(0)
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum) - row[label], nil
}

// crossEntropyBackward returns dLogits = (softmax(logits) - onehot(label)),
// scaled by s (the caller's batch averaging factor).
func crossEntropyBackward(logits *mat.Dense, label int, s float64) *mat.Dense {
	p := softmaxRows(logits)
	p.Set(0, label, p.At(0, label)-1)
	p.Scale(s, p)
	return p
}
