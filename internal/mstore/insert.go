package mstore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/journal"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

const (
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second
	defaultQueueSize     = 64

	appendRetryDelay = 200 * time.Millisecond
	overflowLogEvery = 10 * time.Second
)

const insertScalarSQL = "INSERT INTO scalars (" + scalarCols + ") VALUES (?, ?, ?, ?, ?, ?, ?)"

// seqScalar carries a scalar together with its journal sequence so a
// successful flush can move the journal watermark.
type seqScalar struct {
	seq    uint64
	scalar *run.Scalar
}

// scalarJournal is what the buffer asks of a journal.Journal.
type scalarJournal interface {
	Append(sc *run.Scalar) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// Buffer absorbs scalar writes so the training loop never waits on DuckDB.
// Every scalar hits the journal before it is buffered, and the journal
// watermark advances only after a flush lands, so anything lost between Add
// and flush comes back through Replay on the next start.
type Buffer struct {
	writer  run.ScalarWriter
	journal scalarJournal

	mu           sync.Mutex
	pending      []seqScalar
	overflows    int64
	lastOverflow time.Time

	batches   chan []seqScalar
	batchSize int
	interval  time.Duration

	quit      chan struct{}
	tickerWg  sync.WaitGroup
	flusherWg sync.WaitGroup
}

// BufferConfig tunes the insert buffer. Zero values take defaults.
type BufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

func (c *BufferConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushQueueSize <= 0 {
		c.FlushQueueSize = defaultQueueSize
	}
}

// NewBuffer starts a buffer writing to w. A nil conf.Journal disables
// journaling.
func NewBuffer(w run.ScalarWriter, conf BufferConfig) *Buffer {
	conf.applyDefaults()

	b := &Buffer{
		writer:    w,
		pending:   make([]seqScalar, 0, conf.BatchSize),
		batches:   make(chan []seqScalar, conf.FlushQueueSize),
		batchSize: conf.BatchSize,
		interval:  conf.FlushInterval,
		quit:      make(chan struct{}),
	}
	if conf.Journal != nil {
		b.journal = conf.Journal
	}

	b.flusherWg.Add(1)
	go b.runFlusher()

	b.tickerWg.Add(1)
	go b.runTicker()

	return b
}

// Add journals a scalar and queues it for insertion. Journal failures are
// retried until the buffer stops; losing the append would break crash
// recovery, so Add stalls rather than drops.
func (b *Buffer) Add(sc *run.Scalar) {
	seq, ok := b.appendDurable(sc)
	if !ok {
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, seqScalar{seq: seq, scalar: sc})
	if len(b.pending) < b.batchSize {
		b.mu.Unlock()
		return
	}
	out := b.pending
	b.pending = make([]seqScalar, 0, b.batchSize)
	b.mu.Unlock()

	b.submit(out)
}

func (b *Buffer) appendDurable(sc *run.Scalar) (uint64, bool) {
	if b.journal == nil {
		return 0, true
	}
	for {
		seq, err := b.journal.Append(sc)
		if err == nil {
			return seq, true
		}
		log.Printf("mstore: journal append failed, retrying: %v", err)
		select {
		case <-b.quit:
			return 0, false
		case <-time.After(appendRetryDelay):
		}
	}
}

// submit hands a batch to the flusher, or writes it inline when the queue is
// full so the producer feels the backpressure instead of the batch being
// dropped.
func (b *Buffer) submit(batch []seqScalar) {
	select {
	case b.batches <- batch:
	default:
		b.noteOverflow()
		b.writeBatch(batch)
	}
}

func (b *Buffer) noteOverflow() {
	b.mu.Lock()
	b.overflows++
	n := b.overflows
	emit := time.Since(b.lastOverflow) > overflowLogEvery
	if emit {
		b.lastOverflow = time.Now()
	}
	b.mu.Unlock()

	if emit {
		log.Printf("mstore: flush queue full, writing inline (%d so far)", n)
	}
}

// runTicker flushes pending scalars on an interval so sparse streams still
// reach the store promptly.
func (b *Buffer) runTicker() {
	defer b.tickerWg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweep()
		case <-b.quit:
			b.sweep()
			return
		}
	}
}

// sweep moves whatever is pending over to the flusher.
func (b *Buffer) sweep() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	out := b.pending
	b.pending = make([]seqScalar, 0, b.batchSize)
	b.mu.Unlock()

	b.submit(out)
}

func (b *Buffer) runFlusher() {
	defer b.flusherWg.Done()
	for batch := range b.batches {
		b.writeBatch(batch)
	}
}

// writeBatch inserts one batch and, on success, commits the journal through
// the highest sequence the batch carried.
func (b *Buffer) writeBatch(batch []seqScalar) {
	if len(batch) == 0 {
		return
	}

	scalars := make([]*run.Scalar, len(batch))
	var high uint64
	for i, item := range batch {
		scalars[i] = item.scalar
		if item.seq > high {
			high = item.seq
		}
	}

	if err := b.writer.InsertScalarBatch(scalars); err != nil {
		log.Printf("mstore: flush of %d scalars failed: %v", len(scalars), err)
		return
	}
	if b.journal != nil && high > 0 {
		if err := b.journal.Commit(high); err != nil {
			log.Printf("mstore: journal commit failed: %v", err)
		}
	}
}

// Stop flushes everything still buffered and closes the journal. The ticker
// must drain before the batch channel closes, and the journal must outlive
// the last flush so its watermark lands.
func (b *Buffer) Stop() {
	close(b.quit)
	b.tickerWg.Wait()

	close(b.batches)
	b.flusherWg.Wait()

	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			log.Printf("mstore: journal close failed: %v", err)
		}
	}
}

// InsertScalarBatch writes a batch of scalars in one transaction. When the
// transaction fails the batch is retried row by row so one bad record cannot
// sink the rest.
func (s *Store) InsertScalarBatch(scalars []*run.Scalar) error {
	if len(scalars) == 0 {
		return nil
	}
	return s.write(func(ctx context.Context) error {
		err := s.insertTx(ctx, scalars)
		if err == nil {
			return nil
		}
		log.Printf("mstore: batch insert of %d scalars failed, salvaging per record: %v", len(scalars), err)

		var dropped int
		for _, sc := range scalars {
			if _, err := s.db.ExecContext(ctx, insertScalarSQL, scalarArgs(sc)...); err != nil {
				dropped++
				log.Printf("mstore: dropping scalar %s/%s step %d: %v", sc.Phase, sc.Name, sc.Step, err)
			}
		}
		if dropped > 0 {
			log.Printf("mstore: dropped %d of %d scalars", dropped, len(scalars))
		}
		return nil
	})
}

func (s *Store) insertTx(ctx context.Context, scalars []*run.Scalar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertScalarSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sc := range scalars {
		if _, err := stmt.ExecContext(ctx, scalarArgs(sc)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scalarArgs(sc *run.Scalar) []any {
	return []any{sc.RunID, sc.Phase, sc.Name, sc.Step, sc.Epoch, sc.Value, sc.RecordedAt}
}
