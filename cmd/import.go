package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/config"
	"github.com/asphaltanchors/importer/internal/fetcher"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/pipeline"
)

var (
	importRulesPath    string
	importOutputFormat string
	importDryRun       bool
)

var importCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "Run a full import over the configured (or given) source files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rulesPath := importRulesPath
		if rulesPath == "" {
			rulesPath = cfg.Import.RulesPath
		}
		rules, err := config.LoadRules(rulesPath)
		if err != nil {
			return err
		}

		specs := sourceSpecs(args)
		if len(specs) == 0 {
			return eris.New("no sources: configure import.sources or pass file paths")
		}

		if importDryRun {
			cfg.Store.Driver = "memory"
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		loader := fetcher.NewLoader(
			fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:  cfg.Fetch.UserAgent,
				Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
				MaxRetries: cfg.Fetch.MaxRetries,
			}),
			fetcher.NewFTPFetcher(fetcher.FTPOptions{
				Timeout:  time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
				User:     cfg.Fetch.FTPUser,
				Password: cfg.Fetch.FTPPassword,
			}),
			cfg.Import.TempDir,
		)

		bySource, err := loader.LoadAll(ctx, specs)
		if err != nil {
			return eris.Wrap(err, "load sources")
		}

		// One flat row set: stage processors pick out the columns they own.
		var rows []model.Row
		for _, spec := range specs {
			rows = append(rows, bySource[spec.Name]...)
		}

		rep, err := pipeline.New(st, rules, cfg.Batch).Run(ctx, rows)
		if err != nil {
			return err
		}

		switch importOutputFormat {
		case "yaml":
			data, err := rep.YAML()
			if err != nil {
				return err
			}
			cmd.Print(string(data))
		default:
			cmd.Print(rep.Render())
		}

		if rep.HasFailures() {
			zap.L().Warn("import finished with failed batches")
			return eris.New("one or more batches rolled back")
		}
		return nil
	},
}

// sourceSpecs merges configured sources with positional file arguments.
func sourceSpecs(args []string) []fetcher.SourceSpec {
	var specs []fetcher.SourceSpec
	for _, s := range cfg.Import.Sources {
		specs = append(specs, fetcher.SourceSpec{
			Name:   s.Name,
			URL:    s.URL,
			Format: fetcher.Format(s.Format),
			Sheet:  s.Sheet,
		})
	}
	for i, path := range args {
		specs = append(specs, fetcher.SourceSpec{
			Name: fmt.Sprintf("arg%d", i),
			URL:  path,
		})
	}
	return specs
}

func init() {
	importCmd.Flags().StringVar(&importRulesPath, "rules", "", "path to normalization/matching rules YAML")
	importCmd.Flags().StringVarP(&importOutputFormat, "output", "o", "text", "report format: text or yaml")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "process everything against an in-memory store")
	rootCmd.AddCommand(importCmd)
}
