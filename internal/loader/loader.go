// Package loader turns datasets into ordered batch streams. Batches are
// assembled by a small worker pool and re-sequenced before delivery, so
// consumers always see batch 0..N-1 in order regardless of worker timing.
package loader

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/dataset"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Batch is a stacked group of transformed samples. Labels and Boundaries
// are nil when any sample in the batch is unlabeled.
type Batch struct {
	Index      int
	Images     *tensor.Dense
	Labels     *tensor.Ints
	Boundaries *tensor.Ints
	Names      []string
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return b.Images.Shape[0] }

// Config tunes one loader.
type Config struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Workers   int
	Seed      int64
}

// Loader streams batches from one dataset, one epoch at a time.
type Loader struct {
	ds      dataset.Dataset
	tf      dataset.Transform
	cfg     Config
	batches int
}

// New builds a loader. tf may be nil when the dataset already yields
// uniformly sized samples.
func New(ds dataset.Dataset, tf dataset.Transform, cfg Config) (*Loader, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("loader: batch size %d", cfg.BatchSize)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	n := ds.Len()
	batches := n / cfg.BatchSize
	if !cfg.DropLast && n%cfg.BatchSize != 0 {
		batches++
	}
	if batches == 0 {
		return nil, fmt.Errorf("loader: dataset %s has %d samples, smaller than one batch of %d", ds.Name(), n, cfg.BatchSize)
	}
	return &Loader{ds: ds, tf: tf, cfg: cfg, batches: batches}, nil
}

// Len returns the number of batches in one epoch.
func (l *Loader) Len() int { return l.batches }

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() dataset.Dataset { return l.ds }

func (l *Loader) epochSeed(epoch int) int64 {
	return l.cfg.Seed ^ int64((uint64(epoch)+1)*0x9E3779B97F4A7C15)
}

// Epoch starts streaming one epoch. The returned wait function blocks
// until all workers have stopped and reports the first error; it must be
// called after the channel is drained.
func (l *Loader) Epoch(ctx context.Context, epoch int) (<-chan *Batch, func() error) {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	seed := l.epochSeed(epoch)
	if l.cfg.Shuffle {
		rand.New(rand.NewSource(seed)).Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	type numbered struct {
		idx int
		b   *Batch
	}
	out := make(chan *Batch, l.cfg.Workers)
	jobs := make(chan int)
	results := make(chan numbered, l.cfg.Workers)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(jobs)
		for i := 0; i < l.batches; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < l.cfg.Workers; w++ {
		eg.Go(func() error {
			for idx := range jobs {
				b, err := l.assemble(order, seed, idx)
				if err != nil {
					return err
				}
				select {
				case results <- numbered{idx: idx, b: b}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	var egErr error
	closed := make(chan struct{})
	go func() {
		egErr = eg.Wait()
		close(results)
		close(closed)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		pending := make(map[int]*Batch, l.cfg.Workers)
		next := 0
		for r := range results {
			pending[r.idx] = r.b
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- b:
					next++
				case <-ctx.Done():
					// Keep draining so the workers can exit.
					next++
				}
			}
		}
	}()

	return out, func() error {
		<-done
		<-closed
		return egErr
	}
}

func (l *Loader) assemble(order []int, seed int64, batchIdx int) (*Batch, error) {
	lo := batchIdx * l.cfg.BatchSize
	hi := lo + l.cfg.BatchSize
	if hi > len(order) {
		hi = len(order)
	}

	samples := make([]*dataset.Sample, 0, hi-lo)
	for pos := lo; pos < hi; pos++ {
		s, err := l.ds.Sample(order[pos])
		if err != nil {
			return nil, err
		}
		if l.tf != nil {
			rng := rand.New(rand.NewSource(seed ^ int64(uint64(pos+1)*0x9E3779B97F4A7C15)))
			s, err = l.tf.Apply(s, rng)
			if err != nil {
				return nil, err
			}
		}
		samples = append(samples, s)
	}
	return stack(batchIdx, samples)
}

// stack concatenates samples along a new batch axis.
func stack(batchIdx int, samples []*dataset.Sample) (*Batch, error) {
	first := samples[0].Image
	c, h, w := first.Shape[0], first.Shape[1], first.Shape[2]
	n := len(samples)

	b := &Batch{
		Index:  batchIdx,
		Images: tensor.NewDense(n, c, h, w),
		Names:  make([]string, n),
	}
	labeled := true
	for _, s := range samples {
		if s.Label == nil {
			labeled = false
			break
		}
	}
	if labeled {
		b.Labels = tensor.NewInts(n, h, w)
		b.Boundaries = tensor.NewInts(n, h, w)
	}

	chw := c * h * w
	plane := h * w
	for i, s := range samples {
		if !tensor.SameShape(s.Image.Shape, first.Shape) {
			return nil, fmt.Errorf("loader: sample %s shape %v differs from %v in one batch", s.Name, s.Image.Shape, first.Shape)
		}
		copy(b.Images.Data[i*chw:(i+1)*chw], s.Image.Data)
		b.Names[i] = s.Name
		if labeled {
			copy(b.Labels.Data[i*plane:(i+1)*plane], s.Label.Data)
			if s.Boundary != nil {
				copy(b.Boundaries.Data[i*plane:(i+1)*plane], s.Boundary.Data)
			}
		}
	}
	return b, nil
}
