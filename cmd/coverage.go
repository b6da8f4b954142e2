package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/coverage"
	"github.com/sells-group/outreach-engine/internal/geoindex"
	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	anthropicpkg "github.com/sells-group/outreach-engine/pkg/anthropic"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Preview postal coverage selection",
}

var (
	analyzeKeywords  []string
	analyzeGeography string
	analyzeProfile   string
)

var coverageAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Rank postal targets for a geography without creating a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("coverage"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		calc := ledger.NewCalculator(cfg.Pricing)
		var researcher coverage.Researcher
		if cfg.Anthropic.Key != "" {
			researcher = coverage.NewClaudeResearcher(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		} else {
			zap.L().Warn("OUTREACH_ANTHROPIC_KEY not set, ranking is density-only")
		}
		selector := coverage.NewSelector(geoindex.New(st, 0), researcher, calc, cfg.Listings.MaxResults)

		selection, err := selector.Select(ctx, analyzeKeywords, analyzeGeography, model.CoverageProfile(analyzeProfile))
		if err != nil {
			return err
		}

		fmt.Printf("%-8s  %-24s  %8s  %9s  %8s  %6s\n", "POSTAL", "NEIGHBORHOOD", "DENSITY", "RELEVANCE", "COMBINED", "EST")
		for _, t := range selection.Targets {
			fmt.Printf("%-8s  %-24s  %8.3f  %9.0f  %8.3f  %6d\n",
				t.PostalCode, t.Neighborhood, t.DensityScore, t.RelevanceScore, t.CombinedScore, t.EstimatedBusinesses)
		}
		fmt.Println()
		fmt.Printf("Targets:         %d\n", len(selection.Targets))
		fmt.Printf("Est. businesses: %d\n", selection.EstimatedBusinesses)
		fmt.Printf("Est. cost:       $%.2f\n", selection.EstimatedCost)
		fmt.Printf("Coverage:        %.0f%%\n", selection.CoverageAchieved*100)
		if selection.Degraded {
			fmt.Println("Note: relevance research unavailable, ranking is density-only")
		}
		fmt.Println()
		fmt.Println(selection.Reasoning)
		return nil
	},
}

func init() {
	coverageAnalyzeCmd.Flags().StringSliceVarP(&analyzeKeywords, "keyword", "k", nil, "business keyword (repeatable)")
	coverageAnalyzeCmd.Flags().StringVarP(&analyzeGeography, "geography", "g", "", "postal code, \"City, ST\", state list, or \"us\"")
	coverageAnalyzeCmd.Flags().StringVarP(&analyzeProfile, "profile", "p", "balanced", "coverage profile: budget, balanced, aggressive")
	_ = coverageAnalyzeCmd.MarkFlagRequired("keyword")
	_ = coverageAnalyzeCmd.MarkFlagRequired("geography")

	coverageCmd.AddCommand(coverageAnalyzeCmd)
	rootCmd.AddCommand(coverageCmd)
}
