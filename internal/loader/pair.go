package loader

import (
	"context"
	"errors"
	"fmt"
)

// Pair is one training step's worth of data: a labeled source batch and
// an unlabeled target batch.
type Pair struct {
	Epoch  int
	Step   int
	Source *Batch
	Target *Batch
}

// PairLoader zips a source loader with a target loader. The source side
// defines the epoch length; the target side cycles with reshuffled
// epochs whenever it runs out.
type PairLoader struct {
	src *Loader
	tgt *Loader
}

// NewPair builds a pair loader.
func NewPair(src, tgt *Loader) *PairLoader {
	return &PairLoader{src: src, tgt: tgt}
}

// Steps returns the number of pairs per epoch, set by the source loader.
func (p *PairLoader) Steps() int { return p.src.Len() }

// Source returns the source-side loader.
func (p *PairLoader) Source() *Loader { return p.src }

// Target returns the target-side loader.
func (p *PairLoader) Target() *Loader { return p.tgt }

// Epoch streams source/target pairs. As with Loader.Epoch, drain the
// channel and then call the wait function.
func (p *PairLoader) Epoch(ctx context.Context, epoch int) (<-chan *Pair, func() error) {
	pairCtx, cancel := context.WithCancel(ctx)
	srcCh, srcWait := p.src.Epoch(pairCtx, epoch)

	tgtCh := make(chan *Batch)
	var tgtErr error
	tgtDone := make(chan struct{})
	go func() {
		defer close(tgtCh)
		defer close(tgtDone)
		for cycle := 0; ; cycle++ {
			ch, wait := p.tgt.Epoch(pairCtx, epoch*1009+cycle)
			for b := range ch {
				select {
				case tgtCh <- b:
				case <-pairCtx.Done():
				}
			}
			if err := wait(); err != nil {
				if !errors.Is(err, context.Canceled) {
					tgtErr = err
				}
				return
			}
			if pairCtx.Err() != nil {
				return
			}
		}
	}()

	out := make(chan *Pair)
	zipDone := make(chan struct{})
	go func() {
		defer close(zipDone)
		defer close(out)
		defer cancel()
		step := 0
		for sb := range srcCh {
			tb, ok := <-tgtCh
			if !ok {
				return
			}
			select {
			case out <- &Pair{Epoch: epoch, Step: step, Source: sb, Target: tb}:
				step++
			case <-pairCtx.Done():
				return
			}
		}
	}()

	return out, func() error {
		<-zipDone
		<-tgtDone
		if tgtErr != nil {
			return fmt.Errorf("loader: target stream: %w", tgtErr)
		}
		if err := srcWait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("loader: source stream: %w", err)
		}
		return ctx.Err()
	}
}
