// Package batch drives every data processor over fixed-size batches with
// transactional, partial-failure-tolerant semantics: a bad row never aborts
// its batch, and a failed batch never aborts the run.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/errtrack"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/store"
)

// DefaultBatchSize is the number of rows per transactional scope.
const DefaultBatchSize = 100

// Error types recorded with the tracker.
const (
	ErrTypeRow   = "row"
	ErrTypeBatch = "batch"
)

// Processor applies resolve-or-create logic to one row inside the batch's
// transaction. Row state written back via the row map is visible to later
// stages.
type Processor interface {
	Name() string
	ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error
}

// BatchFlusher is implemented by processors that buffer rows and write them
// in one shot before the batch commits (e.g. line items).
type BatchFlusher interface {
	FlushBatch(ctx context.Context, tx store.Tx) error
}

// BatchObserver is implemented by processors that cache per-run state ahead
// of the commit. The engine reports each batch's outcome so state from a
// rolled-back batch can be discarded instead of shadowing later rows.
type BatchObserver interface {
	BatchDone(committed bool)
}

// Engine splits input into batches and runs a processor over them. Batches
// process strictly in order on one goroutine: later batches must observe the
// entities earlier ones created.
type Engine struct {
	store     store.Store
	batchSize int
	tracker   *errtrack.Tracker
}

// NewEngine creates an engine. batchSize <= 0 uses DefaultBatchSize.
func NewEngine(s store.Store, batchSize int, tracker *errtrack.Tracker) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if tracker == nil {
		tracker = errtrack.New(0)
	}
	return &Engine{store: s, batchSize: batchSize, tracker: tracker}
}

// Tracker returns the engine's error tracker.
func (e *Engine) Tracker() *errtrack.Tracker { return e.tracker }

// Run processes rows with proc. Row-level errors are recorded and the row
// skipped; a batch-level error (flush or commit) rolls the batch back and the
// run proceeds to the next batch. Only a failure to open a transaction is
// fatal: without store connectivity nothing can proceed.
func (e *Engine) Run(ctx context.Context, proc Processor, rows []model.Row) (model.Stats, error) {
	log := zap.L().With(zap.String("processor", proc.Name()))

	var total model.Stats
	for start := 0; start < len(rows); start += e.batchSize {
		end := start + e.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batchStats, err := e.runBatch(ctx, proc, rows[start:end], start)
		if err != nil {
			return total, err
		}
		total.Add(batchStats)
	}

	log.Info("processor complete",
		zap.Int("rows", len(rows)),
		zap.Int("created", total.Created),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped),
		zap.Int("errored", total.Errored),
		zap.Int("batches", total.Batches),
		zap.Int("failed_batches", total.FailedBatches),
	)
	return total, nil
}

// runBatch owns exactly one transactional scope, released on every exit path.
func (e *Engine) runBatch(ctx context.Context, proc Processor, rows []model.Row, offset int) (model.Stats, error) {
	var st model.Stats
	st.Batches = 1

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return st, err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	for i, row := range rows {
		if err := proc.ProcessRow(ctx, tx, row, &st); err != nil {
			st.Errored++
			e.tracker.Record(ErrTypeRow, err.Error(), rowSample(proc.Name(), offset+i, row))
			continue
		}
	}

	if f, ok := proc.(BatchFlusher); ok {
		if err := f.FlushBatch(ctx, tx); err != nil {
			return e.failBatch(ctx, proc, tx, offset, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return e.failBatch(ctx, proc, tx, offset, err)
	}
	committed = true
	if obs, ok := proc.(BatchObserver); ok {
		obs.BatchDone(true)
	}
	return st, nil
}

// failBatch rolls the batch back and converts it into a counted failure so
// the run continues. A systemic fault must not half-commit a batch, but it
// also must not kill a multi-thousand-row import outright.
func (e *Engine) failBatch(ctx context.Context, proc Processor, tx store.Tx, offset int, err error) (model.Stats, error) {
	_ = tx.Rollback(ctx)
	if obs, ok := proc.(BatchObserver); ok {
		obs.BatchDone(false)
	}
	e.tracker.Record(ErrTypeBatch, err.Error(), map[string]string{
		"processor":   proc.Name(),
		"batch_start": fmt.Sprint(offset),
	})
	zap.L().Warn("batch failed, continuing run",
		zap.String("processor", proc.Name()),
		zap.Int("batch_start", offset),
		zap.Error(err),
	)
	return model.Stats{Batches: 1, FailedBatches: 1}, nil
}

// rowSample builds the bounded context stored with a row error.
func rowSample(processor string, index int, row model.Row) map[string]string {
	sample := map[string]string{
		"processor": processor,
		"row_index": fmt.Sprint(index),
	}
	for _, key := range []string{"Customer", "Customer Name", "Company Name", "Main Email", "Invoice No"} {
		if v := row.Get(key); v != "" {
			sample[key] = v
		}
	}
	return sample
}
