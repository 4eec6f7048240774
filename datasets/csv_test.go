package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eywalker/atflow/nest"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create csv %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(header + "\n"); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	for _, r := range rows {
		if _, err := f.WriteString(r + "\n"); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
}

func TestFromCSV(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "trials.csv")
	writeCSV(t, path, "x,y,s,reward", []string{
		"1,2,3,10",
		"4,5,6,20",
		"7,8,9,30",
		"10,11,12,40",
	})

	ds, err := FromCSV(path, []string{"x", "y", "s"}, []string{"reward"}, &Config{TrainFrac: -1})
	if err != nil {
		t.Fatalf("FromCSV failed: %v", err)
	}
	if ds.NTrainSamples() != 4 {
		t.Fatalf("expected 4 samples, got %d", ds.NTrainSamples())
	}

	inputs := flatData(nest.Flatten(ds.TrainInputs())[0])
	if len(inputs) != 12 || inputs[0] != 1 || inputs[5] != 6 {
		t.Fatalf("unexpected input data: %v", inputs)
	}
	targets := flatData(nest.Flatten(ds.TrainTargets())[0])
	if len(targets) != 4 || targets[3] != 40 {
		t.Fatalf("unexpected target data: %v", targets)
	}

	shape := nest.Flatten(ds.InputsShape())[0]
	if shape[0] != -1 || shape[1] != 3 {
		t.Fatalf("unexpected inputs shape: %v", shape)
	}
}

func TestFromCSVColumnsCaseInsensitive(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "trials.csv")
	writeCSV(t, path, "X, Y ,Reward", []string{"1,2,3", "4,5,6"})

	ds, err := FromCSV(path, []string{"x", "y"}, []string{"reward"}, &Config{TrainFrac: -1})
	if err != nil {
		t.Fatalf("FromCSV failed: %v", err)
	}
	if ds.NTrainSamples() != 2 {
		t.Fatalf("expected 2 samples, got %d", ds.NTrainSamples())
	}
}

func TestFromCSVMissingColumn(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "trials.csv")
	writeCSV(t, path, "x,y", []string{"1,2"})

	if _, err := FromCSV(path, []string{"x", "z"}, []string{"y"}, nil); err == nil {
		t.Fatalf("expected an error for a missing column")
	}
}

func TestFromCSVBadValue(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "trials.csv")
	writeCSV(t, path, "x,y", []string{"1,2", "oops,4"})

	if _, err := FromCSV(path, []string{"x"}, []string{"y"}, nil); err == nil {
		t.Fatalf("expected an error for an unparseable value")
	}
}

func TestFromCSVWithSplit(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "trials.csv")
	rows := make([]string, 10)
	for i := range rows {
		rows[i] = "1,2,3"
	}
	writeCSV(t, path, "x,y,r", rows)

	ds, err := FromCSV(path, []string{"x", "y"}, []string{"r"}, &Config{Seed: 42})
	if err != nil {
		t.Fatalf("FromCSV failed: %v", err)
	}
	if ds.NTrainSamples() != 8 || ds.NValidationSamples() != 2 {
		t.Fatalf("unexpected split: train=%d validation=%d", ds.NTrainSamples(), ds.NValidationSamples())
	}
}
