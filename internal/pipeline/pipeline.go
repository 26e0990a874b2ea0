// Package pipeline orchestrates the import stages over one set of rows.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/address"
	"github.com/asphaltanchors/importer/internal/batch"
	"github.com/asphaltanchors/importer/internal/config"
	"github.com/asphaltanchors/importer/internal/errtrack"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/report"
	"github.com/asphaltanchors/importer/internal/resolve"
	"github.com/asphaltanchors/importer/internal/store"
)

// Pipeline runs the import stages in dependency order. Companies come first
// so customers can link to them, customers before contacts and orders, and
// line items last against resolved orders.
type Pipeline struct {
	store   store.Store
	rules   *config.Rules
	batch   int
	samples int
}

// New creates a Pipeline.
func New(st store.Store, rules *config.Rules, cfg config.BatchConfig) *Pipeline {
	samples := cfg.MaxSamples
	if samples <= 0 {
		samples = errtrack.DefaultMaxSamples
	}
	return &Pipeline{
		store:   st,
		rules:   rules,
		batch:   cfg.Size,
		samples: samples,
	}
}

// Run processes rows through every stage and reports the outcome. Stage
// errors are systemic (a stage could not run at all) and abort the run; row
// and batch failures are aggregated into the report instead.
func (p *Pipeline) Run(ctx context.Context, rows []model.Row) (*report.Report, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("import starting", zap.Int("rows", len(rows)))

	matcher, err := resolve.NewMatcher(ctx, p.store, p.rules.Matching)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: seed matcher")
	}
	domains := normalize.NewDomainNormalizer(p.rules.Domains)
	dedupe := address.NewDeduplicator(p.store)

	stages := []batch.Processor{
		batch.NewCompanyProcessor(p.store, domains),
		batch.NewAddressProcessor(dedupe),
		batch.NewCustomerProcessor(matcher),
		batch.NewContactProcessor(),
		batch.NewOrderProcessor(p.store),
		batch.NewLineItemProcessor(),
	}

	tracker := errtrack.New(p.samples)
	engine := batch.NewEngine(p.store, p.batch, tracker)

	rep := &report.Report{
		StartedAt: time.Now().UTC(),
		Rows:      len(rows),
	}

	for _, proc := range stages {
		start := time.Now()
		stats, err := engine.Run(ctx, proc, rows)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: stage %s", proc.Name())
		}
		rep.AddStage(proc.Name(), stats, time.Since(start))
	}

	rep.FinishedAt = time.Now().UTC()
	rep.Errors = tracker.Summary()

	totals := rep.Totals()
	log.Info("import complete",
		zap.Int("rows", len(rows)),
		zap.Int("created", totals.Created),
		zap.Int("updated", totals.Updated),
		zap.Int("errored", totals.Errored),
		zap.Int("failed_batches", totals.FailedBatches),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}
