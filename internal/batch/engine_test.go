package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asphaltanchors/importer/internal/errtrack"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/store"
)

// insertProcessor inserts one customer per row, failing rows whose "fail"
// column is set.
type insertProcessor struct {
	flushes  int
	outcomes []bool
}

func (p *insertProcessor) Name() string { return "test" }

func (p *insertProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	if row.Get("fail") != "" {
		return eris.Errorf("test: bad row %s", row.Get("fail"))
	}
	if err := tx.InsertCustomer(ctx, &model.Customer{
		ID:            row.Get("id"),
		CanonicalName: row.Get("name"),
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return err
	}
	st.Created++
	return nil
}

func (p *insertProcessor) FlushBatch(ctx context.Context, tx store.Tx) error {
	p.flushes++
	return nil
}

func (p *insertProcessor) BatchDone(committed bool) {
	p.outcomes = append(p.outcomes, committed)
}

func makeRows(n int) []model.Row {
	rows := make([]model.Row, n)
	for i := range rows {
		rows[i] = model.Row{
			"id":   fmt.Sprintf("cust-%03d", i),
			"name": fmt.Sprintf("CUSTOMER %03d", i),
		}
	}
	return rows
}

func TestEngineRowFailureDoesNotFailBatch(t *testing.T) {
	mem := store.NewMemory()
	engine := NewEngine(mem, 100, errtrack.New(errtrack.DefaultMaxSamples))

	rows := makeRows(100)
	rows[50]["fail"] = "cust-050"

	stats, err := engine.Run(context.Background(), &insertProcessor{}, rows)
	require.NoError(t, err)

	assert.Equal(t, 99, stats.Created)
	assert.Equal(t, 1, stats.Errored)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 0, stats.FailedBatches)
	assert.Equal(t, 99, mem.CustomerCount())

	summary := engine.Tracker().Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, ErrTypeRow, summary[0].Type)
	assert.Equal(t, 1, summary[0].Count)
}

func TestEngineDeduplicatesRepeatedRowErrors(t *testing.T) {
	mem := store.NewMemory()
	engine := NewEngine(mem, 50, errtrack.New(errtrack.DefaultMaxSamples))

	rows := makeRows(200)
	for i := range rows {
		rows[i]["fail"] = "same"
	}

	stats, err := engine.Run(context.Background(), &insertProcessor{}, rows)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.Errored)

	summary := engine.Tracker().Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, 200, summary[0].Count)
	assert.Len(t, summary[0].Samples, errtrack.DefaultMaxSamples)
}

func TestEngineBatchFailureContinuesRun(t *testing.T) {
	mem := store.NewMemory()
	mem.FailNextCommit = eris.New("deadlock detected")
	engine := NewEngine(mem, 10, errtrack.New(errtrack.DefaultMaxSamples))

	stats, err := engine.Run(context.Background(), &insertProcessor{}, makeRows(25))
	require.NoError(t, err)

	// First batch rolled back, the other two committed.
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 15, stats.Created)
	assert.Equal(t, 15, mem.CustomerCount())

	summary := engine.Tracker().Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, ErrTypeBatch, summary[0].Type)
	assert.Contains(t, summary[0].Message, "deadlock")
}

func TestEngineFlushesBeforeCommit(t *testing.T) {
	mem := store.NewMemory()
	engine := NewEngine(mem, 10, errtrack.New(errtrack.DefaultMaxSamples))

	proc := &insertProcessor{}
	_, err := engine.Run(context.Background(), proc, makeRows(25))
	require.NoError(t, err)
	assert.Equal(t, 3, proc.flushes)
}

func TestEngineReportsBatchOutcomes(t *testing.T) {
	mem := store.NewMemory()
	mem.FailNextCommit = eris.New("deadlock detected")
	engine := NewEngine(mem, 10, errtrack.New(errtrack.DefaultMaxSamples))

	proc := &insertProcessor{}
	_, err := engine.Run(context.Background(), proc, makeRows(25))
	require.NoError(t, err)

	// First batch rolled back, the other two committed.
	assert.Equal(t, []bool{false, true, true}, proc.outcomes)
}

func TestEngineEmptyRows(t *testing.T) {
	engine := NewEngine(store.NewMemory(), 0, errtrack.New(errtrack.DefaultMaxSamples))
	stats, err := engine.Run(context.Background(), &insertProcessor{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, stats)
}
