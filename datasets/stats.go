package datasets

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/gonum/stat"

	"github.com/eywalker/atflow/nest"
)

// UpdateStats recomputes the per-leaf statistics of the training inputs:
// Bessel-corrected mean and standard deviation reduced over the given axes
// (with the reduced axes kept as singleton dimensions, so the results
// broadcast back over the data), plus a stationary scalar mean/std over
// each leaf's entire contents. When no axis is given, every axis except the
// innermost is reduced, collapsing to one statistic per feature channel.
// UpdateStats is idempotent: calling it twice without data changes yields
// identical results.
func (d *Dataset) UpdateStats(axis ...int) error {
	if len(axis) == 0 {
		return d.updateStats(nil)
	}
	return d.updateStats(axis)
}

func (d *Dataset) updateStats(axes []int) error {
	k := len(d.trainInputs)
	means := make([]*tensors.Tensor, k)
	stds := make([]*tensors.Tensor, k)
	stationaryMeans := make([]float64, k)
	stationaryStds := make([]float64, k)
	for i, t := range d.trainInputs {
		ax := axes
		if ax == nil {
			ax = defaultAxes(t.Shape().Rank())
		}
		mean, std, err := meanStd(t, ax)
		if err != nil {
			return fmt.Errorf("datasets: stats for leaf %s: %w", d.inputsLabel[i], err)
		}
		means[i] = mean
		stds[i] = std
		stationaryMeans[i], stationaryStds[i] = stationaryStats(t)
	}
	d.inputsMean = means
	d.inputsStd = stds
	d.inputsStationaryMean = stationaryMeans
	d.inputsStationaryStd = stationaryStds
	return nil
}

// InputsMean returns the per-leaf mean of the training inputs.
func (d *Dataset) InputsMean() *Structure {
	return mustPack(d.inputsStructure, d.inputsMean)
}

// InputsStd returns the per-leaf standard deviation of the training inputs.
func (d *Dataset) InputsStd() *Structure {
	return mustPack(d.inputsStructure, d.inputsStd)
}

// InputsStationaryMean returns the scalar mean over each training-input
// leaf's entire contents.
func (d *Dataset) InputsStationaryMean() *nest.Node[float64] {
	return mustPack(d.inputsStructure, d.inputsStationaryMean)
}

// InputsStationaryStd returns the scalar standard deviation over each
// training-input leaf's entire contents.
func (d *Dataset) InputsStationaryStd() *nest.Node[float64] {
	return mustPack(d.inputsStructure, d.inputsStationaryStd)
}

// Normalize recomputes the input statistics, then rewrites the train, test
// and validation inputs in place as (data - mean) / std, broadcasting the
// per-channel statistics over each leaf. control optionally exempts leaves:
// it must match the nesting of the inputs, and leaves whose flag is false
// pass through untouched. The captured transform is stored and returned by
// Normalizer, so it can be reapplied to new data of matching structure.
// Statistics are recomputed afterwards, so normalized leaves report a
// stationary mean near 0 and std near 1.
func (d *Dataset) Normalize(control *nest.Node[bool], axis ...int) error {
	if err := d.UpdateStats(axis...); err != nil {
		return err
	}

	enabled := make([]bool, len(d.trainInputs))
	if control == nil {
		for i := range enabled {
			enabled[i] = true
		}
	} else {
		if err := nest.AssertSameStructure(control, d.inputsStructure); err != nil {
			return fmt.Errorf("datasets: control: %w", err)
		}
		enabled = nest.Flatten(control)
	}

	norm := &Normalizer{template: d.inputsStructure, stats: make([]leafNorm, len(d.trainInputs))}
	for i := range norm.stats {
		norm.stats[i] = leafNorm{mean: d.inputsMean[i], std: d.inputsStd[i], enabled: enabled[i]}
	}

	var err error
	if d.trainInputs, err = norm.applyLeaves(d.trainInputs, d.inputsLabel); err != nil {
		return err
	}
	if d.testInputs != nil {
		if d.testInputs, err = norm.applyLeaves(d.testInputs, d.inputsLabel); err != nil {
			return err
		}
	}
	if d.validationInputs != nil {
		if d.validationInputs, err = norm.applyLeaves(d.validationInputs, d.inputsLabel); err != nil {
			return err
		}
	}
	d.normalizer = norm
	return d.UpdateStats(axis...)
}

// Normalizer returns the transform captured by the last Normalize call, or
// the identity transform if Normalize has not been called.
func (d *Dataset) Normalizer() *Normalizer { return d.normalizer }

// Normalizer is a reusable normalization transform: the per-leaf
// (mean, std, control) triples captured by Dataset.Normalize, applicable to
// any new data of matching nested structure. The zero value is the identity
// transform.
type Normalizer struct {
	template *nest.Node[int]
	stats    []leafNorm
}

type leafNorm struct {
	mean    *tensors.Tensor
	std     *tensors.Tensor
	enabled bool
}

// IsIdentity reports whether the normalizer passes data through unchanged.
func (n *Normalizer) IsIdentity() bool { return n == nil || len(n.stats) == 0 }

// Apply normalizes data with the captured statistics, returning a new
// structure. Leaves exempted by the control flags are passed through as-is.
func (n *Normalizer) Apply(data *Structure) (*Structure, error) {
	if n.IsIdentity() {
		return data, nil
	}
	if err := nest.AssertSameStructure(data, n.template); err != nil {
		return nil, err
	}
	out, err := n.applyLeaves(nest.Flatten(data), nil)
	if err != nil {
		return nil, err
	}
	return mustPack(n.template, out), nil
}

func (n *Normalizer) applyLeaves(leaves []*tensors.Tensor, labels []string) ([]*tensors.Tensor, error) {
	out := make([]*tensors.Tensor, len(leaves))
	for i, t := range leaves {
		if !n.stats[i].enabled {
			out[i] = t
			continue
		}
		nt, err := normalizeLeaf(t, n.stats[i].mean, n.stats[i].std)
		if err != nil {
			name := fmt.Sprintf("%d", i)
			if labels != nil {
				name = labels[i]
			}
			return nil, fmt.Errorf("datasets: normalize leaf %s: %w", name, err)
		}
		out[i] = nt
	}
	return out, nil
}

// defaultAxes returns the reduction axes used when the caller supplies
// none: every axis except the innermost, or just the batch axis for rank-1
// leaves.
func defaultAxes(rank int) []int {
	n := rank - 1
	if n < 1 {
		n = 1
	}
	axes := make([]int, n)
	for i := range axes {
		axes[i] = i
	}
	return axes
}

// meanStd computes the Bessel-corrected (sample) mean and standard
// deviation of t reduced over the given axes. Reduced axes are kept as
// singleton dimensions so the results broadcast against the original data.
func meanStd(t *tensors.Tensor, axes []int) (mean, std *tensors.Tensor, err error) {
	dims := leafDims(t)
	reduced := make([]bool, len(dims))
	for _, a := range axes {
		if a < 0 || a >= len(dims) {
			return nil, nil, fmt.Errorf("reduction axis %d out of range for rank %d", a, len(dims))
		}
		reduced[a] = true
	}

	outDims := make([]int, len(dims))
	outSize := 1
	for i, dim := range dims {
		if reduced[i] {
			outDims[i] = 1
		} else {
			outDims[i] = dim
			outSize *= dim
		}
	}
	strides := rowMajorStrides(dims)
	outStrides := rowMajorStrides(outDims)
	size := t.Shape().Size()
	count := size / outSize

	outIdx := func(flat int) int {
		j := 0
		for k := range dims {
			if !reduced[k] {
				c := (flat / strides[k]) % dims[k]
				j += c * outStrides[k]
			}
		}
		return j
	}

	means := make([]float64, outSize)
	variances := make([]float64, outSize)
	tensors.ConstFlatData(t, func(src []float64) {
		for i, v := range src {
			means[outIdx(i)] += v
		}
		for j := range means {
			means[j] /= float64(count)
		}
		for i, v := range src {
			j := outIdx(i)
			dev := v - means[j]
			variances[j] += dev * dev
		}
	})
	stds := make([]float64, outSize)
	for j := range stds {
		if count > 1 {
			stds[j] = math.Sqrt(variances[j] / float64(count-1))
		} else {
			stds[j] = math.NaN()
		}
	}

	mean = tensors.FromFlatDataAndDimensions(means, outDims...)
	std = tensors.FromFlatDataAndDimensions(stds, outDims...)
	return mean, std, nil
}

// stationaryStats computes the scalar sample mean/std over a leaf's entire
// contents, ignoring its shape.
func stationaryStats(t *tensors.Tensor) (mean, std float64) {
	tensors.ConstFlatData(t, func(src []float64) {
		mean, std = stat.MeanStdDev(src, nil)
	})
	return mean, std
}

// normalizeLeaf returns (t - mean) / std with mean and std broadcast over
// t. mean/std must have t's rank, with every dimension either matching t or
// equal to 1.
func normalizeLeaf(t, mean, std *tensors.Tensor) (*tensors.Tensor, error) {
	dims := leafDims(t)
	mdims := leafDims(mean)
	if len(mdims) != len(dims) {
		return nil, fmt.Errorf("statistics rank %d does not match data rank %d", len(mdims), len(dims))
	}
	for k := range dims {
		if mdims[k] != 1 && mdims[k] != dims[k] {
			return nil, fmt.Errorf("statistics dimension %d (%d) does not broadcast over data dimension %d", k, mdims[k], dims[k])
		}
	}
	strides := rowMajorStrides(dims)
	mstrides := rowMajorStrides(mdims)

	statIdx := func(flat int) int {
		j := 0
		for k := range dims {
			if mdims[k] != 1 {
				c := (flat / strides[k]) % dims[k]
				j += c * mstrides[k]
			}
		}
		return j
	}

	out := make([]float64, t.Shape().Size())
	tensors.ConstFlatData(t, func(src []float64) {
		tensors.ConstFlatData(mean, func(mu []float64) {
			tensors.ConstFlatData(std, func(sigma []float64) {
				for i, v := range src {
					j := statIdx(i)
					out[i] = (v - mu[j]) / sigma[j]
				}
			})
		})
	})
	return tensors.FromFlatDataAndDimensions(out, dims...), nil
}

// rowMajorStrides returns the element strides of a contiguous row-major
// layout with the given dimensions.
func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	s := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= dims[i]
	}
	return strides
}
