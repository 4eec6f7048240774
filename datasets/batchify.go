package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/eywalker/atflow/nest"
)

// BatchConfig carries the optional arguments for Batchify. The zero value
// (or a nil pointer) selects the defaults: batches of 128, one epoch,
// shuffled order, partial terminal batch included.
type BatchConfig struct {
	// BatchSize is the number of samples per batch. If zero, 128 is used.
	BatchSize int

	// Epochs is the number of passes over the data. If zero, a single
	// epoch is produced. A negative value makes the iterator run forever.
	Epochs int

	// NoShuffle serves samples in their original order instead of drawing
	// a fresh random permutation per epoch.
	NoShuffle bool

	// Cutoff drops the terminal partial batch instead of yielding it.
	// Only the terminal batch is ever dropped; batches straddling interior
	// epoch boundaries are always complete.
	Cutoff bool

	// Seed seeds the permutation source. If zero, a time-based seed is
	// used.
	Seed int64
}

// Batches lazily produces fixed-size batches over a nested data structure,
// independent of any Dataset. Unlike Dataset.Minibatch, a batch that
// overflows the current epoch straddles the boundary: the tail of the old
// permutation is completed with the head of a freshly drawn one, so every
// interior batch has exactly BatchSize samples. A Batches is not
// rewindable; construct a new one to restart.
type Batches struct {
	template  *nest.Node[int]
	leaves    []*tensors.Tensor
	n         int
	batchSize int
	epochs    int // negative means unbounded
	shuffle   bool
	cutoff    bool

	rng   *rand.Rand
	perm  []int
	pos   int
	epoch int
	done  bool
}

// Batchify returns an iterator over data, whose leaves must all share the
// same first-dimension size.
func Batchify(data *Structure, cfg *BatchConfig) (*Batches, error) {
	if cfg == nil {
		cfg = &BatchConfig{}
	}
	if data == nil {
		return nil, fmt.Errorf("datasets: data is required")
	}
	leaves := nest.Flatten(data)
	if len(leaves) == 0 {
		return nil, fmt.Errorf("datasets: data must contain at least one leaf")
	}
	labels := make([]string, len(leaves))
	for i := range labels {
		labels[i] = fmt.Sprintf("data%d", i)
	}
	if err := validateLeaves(leaves, labels); err != nil {
		return nil, err
	}
	if err := checkSameBatch(leaves, labels); err != nil {
		return nil, err
	}
	if batchLen(leaves[0]) == 0 {
		return nil, fmt.Errorf("datasets: data must contain at least one sample")
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 128
	}
	if batchSize < 0 {
		return nil, fmt.Errorf("datasets: batch size must be positive, got %d", batchSize)
	}
	epochs := cfg.Epochs
	if epochs == 0 {
		epochs = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	b := &Batches{
		template:  structureOf(data),
		leaves:    leaves,
		n:         batchLen(leaves[0]),
		batchSize: batchSize,
		epochs:    epochs,
		shuffle:   !cfg.NoShuffle,
		cutoff:    cfg.Cutoff,
		rng:       rand.New(rand.NewSource(seed)),
	}
	b.perm = b.newPerm()
	return b, nil
}

// Next returns the next batch, or io.EOF when the configured number of
// epochs is exhausted. With unbounded epochs it never returns io.EOF.
func (b *Batches) Next() (*Structure, error) {
	if b.done {
		return nil, io.EOF
	}

	// Batch fits entirely within the current epoch.
	if b.pos+b.batchSize <= b.n {
		idx := b.perm[b.pos : b.pos+b.batchSize]
		b.pos += b.batchSize
		return b.gather(idx), nil
	}

	if b.lastEpoch() {
		if b.cutoff || b.pos >= b.n {
			b.done = true
			return nil, io.EOF
		}
		idx := b.perm[b.pos:]
		b.done = true
		return b.gather(idx), nil
	}

	// Straddle the epoch boundary: finish the current permutation and
	// complete the batch from as many fresh permutations as needed.
	idx := make([]int, 0, b.batchSize)
	idx = append(idx, b.perm[b.pos:]...)
	for len(idx) < b.batchSize {
		b.perm = b.newPerm()
		b.epoch++
		take := b.batchSize - len(idx)
		if take > b.n {
			take = b.n
		}
		idx = append(idx, b.perm[:take]...)
		b.pos = take
		if len(idx) < b.batchSize && b.lastEpoch() {
			// Out of epochs mid-batch: the accumulated partial batch is
			// the terminal one, so Cutoff drops it.
			b.pos = b.n
			if b.cutoff {
				b.done = true
				return nil, io.EOF
			}
			break
		}
	}
	return b.gather(idx), nil
}

func (b *Batches) lastEpoch() bool {
	return b.epochs >= 0 && b.epoch == b.epochs-1
}

func (b *Batches) newPerm() []int {
	if b.shuffle {
		return b.rng.Perm(b.n)
	}
	perm := make([]int, b.n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

func (b *Batches) gather(idx []int) *Structure {
	return mustPack(b.template, gatherLeaves(b.leaves, idx))
}
