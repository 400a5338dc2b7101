// Package training rebuilds the recognition model from the sample corpus.
package training

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/dataset"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/vision"
)

// ErrNoTrainingData is returned when the corpus yields no samples.
var ErrNoTrainingData = errors.New("no training data")

// Locator finds face regions in a stored sample.
type Locator interface {
	Locate(img image.Image) ([]image.Rectangle, error)
}

// Corpus lists the stored samples.
type Corpus interface {
	Partitions() ([]string, error)
	Samples(id string) ([]string, error)
}

// ProgressFunc is called after every processed image.
type ProgressFunc func(done, total int)

// Options configures a Trainer.
type Options struct {
	ModelPath  string
	Params     recognition.Params
	Sealer     recognition.Sealer
	Workers    int
	SampleSize int
	Progress   ProgressFunc
	// OnSaved receives the model once it is on disk.
	OnSaved func(*recognition.Model)
}

// Summary describes a finished training run.
type Summary struct {
	Identities int           `json:"identities"`
	Samples    int           `json:"samples"`
	Images     int           `json:"images"`
	Skipped    []string      `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Trainer is the single writer of the model file.
type Trainer struct {
	opts    Options
	locator Locator
	corpus  Corpus

	mu sync.Mutex
	// locMu serializes detection; locators need not be safe for
	// concurrent use.
	locMu sync.Mutex
}

// New creates a Trainer.
func New(opts Options, locator Locator, corpus Corpus) *Trainer {
	if opts.Params == (recognition.Params{}) {
		opts.Params = recognition.DefaultParams()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = vision.SampleSize
	}
	return &Trainer{opts: opts, locator: locator, corpus: corpus}
}

type item struct {
	partition int
	path      string
}

// slot holds the histograms extracted from one image.
type slot struct {
	hists [][]float64
	err   error
}

// Train rebuilds the model. Partitions are labeled in lexicographic order;
// partitions that contribute no sample are left out of the mapping. With no
// samples at all the model file is left untouched and ErrNoTrainingData is
// returned.
func (t *Trainer) Train(ctx context.Context) (Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	log := logging.Component("training")

	ids, err := t.corpus.Partitions()
	if err != nil {
		return Summary{}, err
	}

	var items []item
	for i, id := range ids {
		paths, err := t.corpus.Samples(id)
		if err != nil {
			return Summary{}, err
		}
		for _, p := range paths {
			items = append(items, item{partition: i, path: p})
		}
	}
	if len(items) == 0 {
		log.Warnf("No samples found in %d partitions", len(ids))
		return Summary{Skipped: ids}, ErrNoTrainingData
	}

	log.Infof("Training on %d images from %d partitions with %d workers", len(items), len(ids), t.opts.Workers)

	slots, err := t.extract(ctx, items)
	if err != nil {
		return Summary{}, err
	}

	perPartition := make([]int, len(ids))
	for i, s := range slots {
		perPartition[items[i].partition] += len(s.hists)
	}
	var included, skipped []string
	for i, id := range ids {
		if perPartition[i] > 0 {
			included = append(included, id)
		} else {
			skipped = append(skipped, id)
		}
	}

	summary := Summary{Images: len(items), Skipped: skipped}
	if len(included) == 0 {
		log.Warnf("No faces detected in %d images", len(items))
		return summary, ErrNoTrainingData
	}

	mapping := dataset.NewLabelMapping(included)
	model := recognition.NewModel(t.opts.Params, mapping)
	for i, s := range slots {
		label, ok := mapping.Label(ids[items[i].partition])
		if !ok {
			continue
		}
		for _, h := range s.hists {
			if err := model.Add(label, h); err != nil {
				return Summary{}, err
			}
		}
	}

	if err := recognition.SaveModel(t.opts.ModelPath, model, t.opts.Sealer); err != nil {
		return Summary{}, err
	}
	if t.opts.OnSaved != nil {
		t.opts.OnSaved(model)
	}

	summary.Identities = mapping.Len()
	summary.Samples = model.SampleCount
	summary.Duration = time.Since(start)

	log.WithFields(logging.Fields{
		"identities": summary.Identities,
		"samples":    summary.Samples,
		"skipped":    len(skipped),
		"duration":   summary.Duration.Round(time.Millisecond),
	}).Info("Model trained")
	return summary, nil
}

// extract runs detection and feature extraction on a bounded pool. Results
// land in per-image slots so sample order does not depend on scheduling.
func (t *Trainer) extract(ctx context.Context, items []item) ([]slot, error) {
	slots := make([]slot, len(items))
	work := make(chan int)

	var (
		wg       sync.WaitGroup
		progress sync.Mutex
		done     int
	)
	workers := t.opts.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				slots[i].hists, slots[i].err = t.process(items[i].path)

				if t.opts.Progress != nil {
					progress.Lock()
					done++
					t.opts.Progress(done, len(items))
					progress.Unlock()
				}
			}
		}()
	}

	var cancelled error
feed:
	for i := range items {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case work <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(work)
	wg.Wait()

	if cancelled != nil {
		return nil, fmt.Errorf("training cancelled: %w", cancelled)
	}

	log := logging.Component("training")
	for i, s := range slots {
		if s.err != nil {
			log.WithError(s.err).Warnf("Skipping %s", items[i].path)
		}
	}
	return slots, nil
}

// process re-detects faces in one stored sample and returns a histogram for
// every region.
func (t *Trainer) process(path string) ([][]float64, error) {
	img, err := dataset.LoadImage(path)
	if err != nil {
		return nil, err
	}

	t.locMu.Lock()
	regions, err := t.locator.Locate(img)
	t.locMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	hists := make([][]float64, 0, len(regions))
	for _, r := range regions {
		sample, err := vision.Normalize(img, r, t.opts.SampleSize)
		if err != nil {
			continue
		}
		hists = append(hists, t.opts.Params.Histogram(sample))
	}
	return hists, nil
}
