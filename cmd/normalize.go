package main

import (
	"github.com/spf13/cobra"

	"github.com/asphaltanchors/importer/internal/config"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/resolve"
)

// Debug helpers for inspecting what the import would do with a value.

var normalizeRulesPath string

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Inspect normalization of a single value",
}

var normalizeDomainCmd = &cobra.Command{
	Use:   "domain <email-or-domain>",
	Short: "Show the company key for an email address or domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := config.LoadRules(rulesPathOrConfig())
		if err != nil {
			return err
		}
		key := normalize.NewDomainNormalizer(rules.Domains).Normalize(args[0])
		if key == "" {
			cmd.Println("(invalid)")
			return nil
		}
		cmd.Println(key)
		return nil
	},
}

var normalizeNameCmd = &cobra.Command{
	Use:   "name <raw-name>",
	Short: "Show the canonical form and acronym of a business name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		canonical := normalize.NormalizeName(args[0])
		cmd.Println(canonical)
		if acr := resolve.Acronym(canonical); acr != "" {
			cmd.Println("acronym: " + acr)
		}
		return nil
	},
}

func rulesPathOrConfig() string {
	if normalizeRulesPath != "" {
		return normalizeRulesPath
	}
	return cfg.Import.RulesPath
}

func init() {
	normalizeCmd.PersistentFlags().StringVar(&normalizeRulesPath, "rules", "", "path to normalization/matching rules YAML")
	normalizeCmd.AddCommand(normalizeDomainCmd)
	normalizeCmd.AddCommand(normalizeNameCmd)
	rootCmd.AddCommand(normalizeCmd)
}
