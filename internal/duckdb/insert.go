package duckdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

const (
	// DefaultBatchSize is the number of entries that triggers an immediate flush.
	DefaultBatchSize = 2000
	// DefaultFlushInterval is how often pending entries are flushed.
	DefaultFlushInterval = 100 * time.Millisecond
	// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
	DefaultFlushQueueSize = 64
)

// ErrBufferStopped is returned by Persist after Stop.
var ErrBufferStopped = errors.New("duckdb: insert buffer stopped")

// InsertBuffer batches entries and flushes them to DuckDB asynchronously.
// Persist never blocks on DuckDB writes - batches are sent to a flush goroutine.
type InsertBuffer struct {
	writer        model.LogWriter
	mu            sync.Mutex
	pending       []*LogEntry
	stopped       bool
	sendMu        sync.RWMutex // held for writing only while flushChan is closed
	flushChan     chan []*LogEntry
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	stopOnce      sync.Once

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.LogWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]*LogEntry, 0, batchSize),
		flushChan:     make(chan []*LogEntry, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// Persist queues one record, stamped with the current time.
func (b *InsertBuffer) Persist(record *model.ParsedRecord) error {
	return b.Add(&LogEntry{
		ReceivedAt:   time.Now().UTC(),
		ParsedRecord: *record,
	})
}

// Add queues an entry for batch insertion. This never blocks on DuckDB IO.
func (b *InsertBuffer) Add(entry *LogEntry) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBufferStopped
	}
	b.pending = append(b.pending, entry)
	var batch []*LogEntry
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]*LogEntry, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.send(batch, "overflow-inline")
	}
	return nil
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// drainPending moves pending entries to the flush channel without blocking on DuckDB.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]*LogEntry, 0, b.maxBatch)
	b.mu.Unlock()

	b.send(batch, "inline")
}

// send hands a batch to the flush worker. If the queue is full it flushes
// synchronously as a safety valve (DuckDB is falling behind).
func (b *InsertBuffer) send(batch []*LogEntry, mode string) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error (%s): %v", mode, err)
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure - %d inline flushes (flush channel full, DuckDB falling behind)", count)
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error: %v", err)
		}
	}
}

// Stop flushes remaining entries and waits for all writes to complete.
// Persist calls made after Stop return ErrBufferStopped.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.done)
		// Wait for tickLoop to finish its final drain before closing flushChan,
		// ensuring all pending entries are sent to the flush channel.
		b.tickWg.Wait()

		b.sendMu.Lock()
		close(b.flushChan)
		b.sendMu.Unlock()

		b.wg.Wait()
	})
}

func (b *InsertBuffer) flushBatch(batch []*LogEntry) error {
	if len(batch) == 0 {
		return nil
	}
	return b.writer.InsertLogBatch(batch)
}

// InsertLogBatch appends a batch of entries into DuckDB in a single transaction.
// If the batch fails, it is retried entry-by-entry to salvage as many as
// possible; the returned error reports how many were dropped.
func (s *Store) InsertLogBatch(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, entries)
	if err == nil {
		return nil
	}
	if len(entries) == 1 {
		return err
	}

	// Batch failed, retry entry-by-entry to salvage what we can.
	var failed int
	var lastErr error
	for _, e := range entries {
		if rerr := s.insertBatchTx(ctx, []*LogEntry{e}); rerr != nil {
			failed++
			lastErr = rerr
			log.Printf("duckdb: dropping %s record (source=%s msg=%.80s): %v", e.Protocol, e.Source, e.Message, rerr)
		}
	}
	if failed > 0 {
		return fmt.Errorf("duckdb: batch partially failed, %d/%d records dropped: %w", failed, len(entries), lastErr)
	}
	return nil
}

// insertBatchTx inserts entries in a single transaction.
func (s *Store) insertBatchTx(ctx context.Context, entries []*LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (received_at, protocol, source, message, parsed_timestamp, hostname, process) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		receivedAt := e.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}

		var timestamp, hostname, process any
		if e.Header != nil {
			timestamp, hostname, process = e.Header.Timestamp, e.Header.Hostname, e.Header.Process
		}

		if _, err := stmt.ExecContext(
			ctx,
			receivedAt, string(e.Protocol), e.Source, e.Message,
			timestamp, hostname, process,
		); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
