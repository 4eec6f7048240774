package datasets

import (
	"io"
	"testing"

	"github.com/eywalker/atflow/nest"
)

// drain pulls batches until io.EOF, returning the batch sizes.
func drain(t *testing.T, b *Batches, limit int) []int {
	t.Helper()
	var sizes []int
	for i := 0; i < limit; i++ {
		batch, err := b.Next()
		if err == io.EOF {
			return sizes
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		sizes = append(sizes, batchLen(nest.Flatten(batch)[0]))
	}
	t.Fatalf("iterator did not terminate within %d batches", limit)
	return nil
}

func TestBatchifySingleEpoch(t *testing.T) {
	b, err := Batchify(rampLeaf(10, 2), &BatchConfig{BatchSize: 3, Seed: 1})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	sizes := drain(t, b, 100)
	// ceil(10/3) batches whose sizes sum to 10.
	if len(sizes) != 4 {
		t.Fatalf("expected 4 batches, got %v", sizes)
	}
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != 10 {
		t.Fatalf("expected sizes to sum to 10, got %v", sizes)
	}
	if sizes[3] != 1 {
		t.Fatalf("expected terminal batch of 1, got %v", sizes)
	}

	// io.EOF is sticky.
	if _, err := b.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after exhaustion, got %v", err)
	}
}

func TestBatchifyCutoff(t *testing.T) {
	b, err := Batchify(rampLeaf(10, 2), &BatchConfig{BatchSize: 3, Cutoff: true, Seed: 1})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	sizes := drain(t, b, 100)
	// floor(10/3) batches, each full.
	if len(sizes) != 3 {
		t.Fatalf("expected 3 batches, got %v", sizes)
	}
	for _, s := range sizes {
		if s != 3 {
			t.Fatalf("expected only full batches, got %v", sizes)
		}
	}
}

func TestBatchifyExactFit(t *testing.T) {
	b, err := Batchify(rampLeaf(12, 2), &BatchConfig{BatchSize: 4, Seed: 1})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	sizes := drain(t, b, 100)
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 4 {
		t.Fatalf("expected three full batches, got %v", sizes)
	}
}

func TestBatchifyNoShuffle(t *testing.T) {
	b, err := Batchify(rampLeaf(6, 1), &BatchConfig{BatchSize: 2, NoShuffle: true})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	var got []float64
	for {
		batch, err := b.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, flatData(nest.Flatten(batch)[0])...)
	}
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("expected original order, got %v", got)
		}
	}
}

func TestBatchifyStraddlesEpochBoundary(t *testing.T) {
	// 10 samples, batches of 3, two epochs: the fourth batch takes one
	// sample from the first epoch and two from the second, so every
	// interior batch is full and only the final batch is short.
	b, err := Batchify(rampLeaf(10, 1), &BatchConfig{BatchSize: 3, Epochs: 2, Seed: 5})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	counts := make(map[float64]int)
	var sizes []int
	for {
		batch, err := b.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		data := flatData(nest.Flatten(batch)[0])
		sizes = append(sizes, len(data))
		for _, v := range data {
			counts[v]++
		}
	}
	if len(sizes) != 7 {
		t.Fatalf("expected 7 batches over two epochs, got %v", sizes)
	}
	for i, s := range sizes[:6] {
		if s != 3 {
			t.Fatalf("interior batch %d is short: %v", i, sizes)
		}
	}
	if sizes[6] != 2 {
		t.Fatalf("expected terminal batch of 2, got %v", sizes)
	}
	// Every sample is served exactly once per epoch.
	for v := 0.0; v < 10; v++ {
		if counts[v] != 2 {
			t.Fatalf("sample %v served %d times over two epochs", v, counts[v])
		}
	}
}

func TestBatchifyUnbounded(t *testing.T) {
	b, err := Batchify(rampLeaf(4, 1), &BatchConfig{BatchSize: 3, Epochs: -1, Cutoff: true, Seed: 2})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	// With unbounded epochs no batch is ever dropped mid-stream, even
	// with Cutoff set: every batch is full-size and never io.EOF.
	for i := 0; i < 50; i++ {
		batch, err := b.Next()
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if got := batchLen(nest.Flatten(batch)[0]); got != 3 {
			t.Fatalf("batch %d has size %d, want 3", i, got)
		}
	}
}

func TestBatchifyBatchLargerThanData(t *testing.T) {
	// 3 samples, batches of 5, three epochs (9 samples total): batches
	// span multiple permutations and every sample is served three times.
	b, err := Batchify(rampLeaf(3, 1), &BatchConfig{BatchSize: 5, Epochs: 3, Seed: 8})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	counts := make(map[float64]int)
	total := 0
	for {
		batch, err := b.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		data := flatData(nest.Flatten(batch)[0])
		total += len(data)
		for _, v := range data {
			counts[v]++
		}
	}
	if total != 9 {
		t.Fatalf("expected 9 samples over three epochs, got %d", total)
	}
	for v := 0.0; v < 3; v++ {
		if counts[v] != 3 {
			t.Fatalf("sample %v served %d times, want 3", v, counts[v])
		}
	}
}

func TestBatchifyCutoffExhaustedMidBatch(t *testing.T) {
	// 3 samples, batches of 7, two epochs: the first batch drains every
	// epoch without filling up, so it is the terminal partial batch and
	// Cutoff drops it.
	b, err := Batchify(rampLeaf(3, 1), &BatchConfig{BatchSize: 7, Epochs: 2, Cutoff: true, Seed: 4})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	if _, err := b.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF for a cut-off partial batch, got %v", err)
	}

	// Without Cutoff the same configuration yields the partial batch.
	b, err = Batchify(rampLeaf(3, 1), &BatchConfig{BatchSize: 7, Epochs: 2, Seed: 4})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	batch, err := b.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := batchLen(nest.Flatten(batch)[0]); got != 6 {
		t.Fatalf("expected all 6 samples in one partial batch, got %d", got)
	}
	if _, err := b.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after exhaustion, got %v", err)
	}
}

func TestBatchifyNestedData(t *testing.T) {
	data := nest.Seq(rampLeaf(8, 2), rampLeaf(8, 3))
	b, err := Batchify(data, &BatchConfig{BatchSize: 4, Seed: 1})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	batch, err := b.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := nest.AssertSameStructure(batch, data); err != nil {
		t.Fatalf("batch lost the original nesting: %v", err)
	}
	leaves := nest.Flatten(batch)
	if batchLen(leaves[0]) != 4 || batchLen(leaves[1]) != 4 {
		t.Fatalf("leaves have inconsistent batch sizes")
	}
}

func TestBatchifyMismatchedLeaves(t *testing.T) {
	_, err := Batchify(nest.Seq(rampLeaf(8, 2), rampLeaf(7, 2)), nil)
	if err == nil {
		t.Fatalf("expected an error for mismatched batch sizes")
	}
}

func TestBatchifySeeded(t *testing.T) {
	first := collectOrder(t, 21)
	second := collectOrder(t, 21)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different orders: %v vs %v", first, second)
		}
	}
}

func collectOrder(t *testing.T, seed int64) []float64 {
	t.Helper()
	b, err := Batchify(rampLeaf(10, 1), &BatchConfig{BatchSize: 5, Seed: seed})
	if err != nil {
		t.Fatalf("Batchify failed: %v", err)
	}
	var order []float64
	for {
		batch, err := b.Next()
		if err == io.EOF {
			return order
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		order = append(order, flatData(nest.Flatten(batch)[0])...)
	}
}
