package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// BatchShape returns a copy of dims with the leading (batch) dimension
// replaced by -1, the marker for an unbound batch size.
func BatchShape(dims []int) []int {
	out := make([]int, len(dims))
	copy(out, dims)
	if len(out) > 0 {
		out[0] = -1
	}
	return out
}

// leafDims returns the dimensions of a leaf tensor.
func leafDims(t *tensors.Tensor) []int {
	return t.Shape().Dimensions
}

// batchLen returns the size of the leading (batch) dimension of a leaf.
func batchLen(t *tensors.Tensor) int {
	return t.Shape().Dimensions[0]
}

// rowSize returns the number of elements per sample in a leaf.
func rowSize(t *tensors.Tensor) int {
	dims := t.Shape().Dimensions
	size := 1
	for _, d := range dims[1:] {
		size *= d
	}
	return size
}

// validateLeaves checks that every leaf is a float64 tensor with a batch
// dimension. labels must be parallel to leaves.
func validateLeaves(leaves []*tensors.Tensor, labels []string) error {
	for i, t := range leaves {
		if t == nil {
			return fmt.Errorf("datasets: leaf %s is nil", labels[i])
		}
		if t.Shape().Rank() < 1 {
			return fmt.Errorf("datasets: leaf %s is a scalar; leaves must have a batch dimension", labels[i])
		}
		if t.DType() != dtypes.Float64 {
			return fmt.Errorf("datasets: leaf %s has dtype %s, want float64", labels[i], t.DType())
		}
	}
	return nil
}

// checkSameBatch verifies that all leaves share the batch size of the first
// leaf, returning a *ShapeError naming the first offender otherwise.
func checkSameBatch(leaves []*tensors.Tensor, labels []string) error {
	if len(leaves) == 0 {
		return nil
	}
	want := batchLen(leaves[0])
	for i, t := range leaves[1:] {
		if got := batchLen(t); got != want {
			return &ShapeError{Leaf: labels[i+1], Got: got, Want: want}
		}
	}
	return nil
}

// gatherRows selects the given sample indices (along axis 0) from a leaf,
// returning a new tensor of batch size len(idx).
func gatherRows(t *tensors.Tensor, idx []int) *tensors.Tensor {
	row := rowSize(t)
	out := make([]float64, len(idx)*row)
	tensors.ConstFlatData(t, func(src []float64) {
		for i, ix := range idx {
			copy(out[i*row:(i+1)*row], src[ix*row:(ix+1)*row])
		}
	})
	dims := leafDims(t)
	outDims := append([]int{len(idx)}, dims[1:]...)
	return tensors.FromFlatDataAndDimensions(out, outDims...)
}

// gatherLeaves applies gatherRows to every leaf.
func gatherLeaves(leaves []*tensors.Tensor, idx []int) []*tensors.Tensor {
	out := make([]*tensors.Tensor, len(leaves))
	for i, t := range leaves {
		out[i] = gatherRows(t, idx)
	}
	return out
}
