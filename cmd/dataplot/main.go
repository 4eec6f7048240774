// Command dataplot loads a CSV file into a dataset, reports its split and
// per-feature statistics, and writes per-feature histograms before and
// after normalization. It is a small inspection tool for checking that a
// dataset is sensible before training against it.
//
// Example:
//
//	dataplot -csv trials.csv -inputs x,y,s -targets reward -out plots
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/eywalker/atflow/datasets"
	"github.com/eywalker/atflow/nest"
)

func main() {
	csvPath := flag.String("csv", "", "path to the input CSV file (required)")
	inputCols := flag.String("inputs", "", "comma-separated input column names (required)")
	targetCols := flag.String("targets", "", "comma-separated target column names (required)")
	outDir := flag.String("out", "plots", "output directory for generated histograms")
	seed := flag.Int64("seed", 0, "random seed for the train/validation split (0 = unseeded)")
	trainFrac := flag.Float64("train-frac", 0.8, "fraction of samples used for training (<=0 disables the split)")
	bins := flag.Int("bins", 30, "number of histogram bins")
	skipNormalize := flag.Bool("skip-normalize", false, "only plot raw feature distributions")
	flag.Parse()

	if *csvPath == "" || *inputCols == "" || *targetCols == "" {
		flag.Usage()
		os.Exit(2)
	}

	inputs := splitCols(*inputCols)
	targets := splitCols(*targetCols)

	frac := *trainFrac
	if frac <= 0 {
		frac = -1
	}
	ds, err := datasets.FromCSV(*csvPath, inputs, targets, &datasets.Config{
		Seed:      *seed,
		TrainFrac: frac,
	})
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}

	log.Printf("Loaded %s: %d training, %d validation samples",
		*csvPath, ds.NTrainSamples(), ds.NValidationSamples())

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	logStats(ds, inputs)
	if err := plotFeatures(ds, inputs, *outDir, *bins, "raw"); err != nil {
		log.Fatalf("failed to plot raw features: %v", err)
	}

	if *skipNormalize {
		return
	}

	if err := ds.Normalize(nil); err != nil {
		log.Fatalf("failed to normalize: %v", err)
	}
	log.Printf("Normalized inputs with training-set statistics")
	logStats(ds, inputs)
	if err := plotFeatures(ds, inputs, *outDir, *bins, "normalized"); err != nil {
		log.Fatalf("failed to plot normalized features: %v", err)
	}
}

func splitCols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// logStats prints the per-channel training statistics of the single input
// leaf produced by FromCSV.
func logStats(ds *datasets.Dataset, cols []string) {
	mean := flatLeaf(nest.Flatten(ds.InputsMean())[0])
	std := flatLeaf(nest.Flatten(ds.InputsStd())[0])
	for i, col := range cols {
		log.Printf("  %-12s mean=%12.5f std=%12.5f", col, mean[i], std[i])
	}
	sm := nest.Flatten(ds.InputsStationaryMean())[0]
	ss := nest.Flatten(ds.InputsStationaryStd())[0]
	log.Printf("  %-12s mean=%12.5f std=%12.5f", "(stationary)", sm, ss)
}

// plotFeatures writes one histogram per input column.
func plotFeatures(ds *datasets.Dataset, cols []string, outDir string, bins int, suffix string) error {
	leaf := nest.Flatten(ds.TrainInputs())[0]
	data := flatLeaf(leaf)
	width := len(cols)

	for c, col := range cols {
		values := make(plotter.Values, 0, len(data)/width)
		for i := c; i < len(data); i += width {
			values = append(values, data[i])
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s (%s)", col, suffix)
		p.X.Label.Text = col
		p.Y.Label.Text = "count"

		h, err := plotter.NewHist(values, bins)
		if err != nil {
			return fmt.Errorf("histogram for %s: %w", col, err)
		}
		p.Add(h)

		outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", col, suffix))
		if err := p.Save(6*vg.Inch, 4*vg.Inch, outPath); err != nil {
			return fmt.Errorf("saving %s: %w", outPath, err)
		}
		log.Printf("  wrote %s", outPath)
	}
	return nil
}

func flatLeaf(t *tensors.Tensor) []float64 {
	return tensors.CopyFlatData[float64](t)
}
