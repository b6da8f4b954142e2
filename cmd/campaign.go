package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/export"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/orchestrator"
	"github.com/sells-group/outreach-engine/internal/store"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create and drive discovery campaigns",
}

var (
	createKeywords  []string
	createGeography string
	createProfile   string
	createRun       bool
)

var campaignCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Select coverage and create a campaign in draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		campaign, selection, err := env.Orchestrator.Create(ctx, orchestrator.CreateRequest{
			Name:      args[0],
			Keywords:  createKeywords,
			Geography: createGeography,
			Profile:   model.CoverageProfile(createProfile),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Campaign %s created (%s)\n", campaign.ID, campaign.Name)
		fmt.Printf("  Targets:            %d\n", campaign.TargetCount)
		fmt.Printf("  Est. businesses:    %d\n", selection.EstimatedBusinesses)
		fmt.Printf("  Est. cost:          $%.2f\n", campaign.EstimatedCost)
		if selection.Degraded {
			fmt.Println("  Note: relevance research unavailable, ranking is density-only")
		}
		fmt.Println()
		fmt.Println(selection.Reasoning)

		if createRun {
			return runCampaign(cmd, campaign.ID)
		}
		fmt.Printf("\nRun it with: outreach campaign run %s\n", campaign.ID)
		return nil
	},
}

var campaignRunCmd = &cobra.Command{
	Use:   "run CAMPAIGN_ID",
	Short: "Execute a draft or paused campaign through all phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCampaign(cmd, args[0])
	},
}

func runCampaign(cmd *cobra.Command, campaignID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEngine(ctx, "campaign")
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Orchestrator.Execute(ctx, campaignID); err != nil {
		return err
	}

	campaign, err := env.Orchestrator.Status(cmd.Context(), campaignID)
	if err != nil {
		return err
	}
	fmt.Printf("Campaign %s: %s\n", campaignID, campaign.Status)
	fmt.Printf("  Businesses: %d\n", campaign.TotalBusinesses)
	fmt.Printf("  Emails:     %d\n", campaign.TotalEmails)
	fmt.Printf("  Spend:      $%.2f (estimated $%.2f)\n", campaign.ActualCost, campaign.EstimatedCost)
	return nil
}

var campaignPauseCmd = &cobra.Command{
	Use:   "pause CAMPAIGN_ID",
	Short: "Pause a running campaign at the next work-unit boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Pause(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Campaign %s paused\n", args[0])
		return nil
	},
}

var campaignResumeCmd = &cobra.Command{
	Use:   "resume CAMPAIGN_ID",
	Short: "Resume a paused campaign without repeating completed work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCampaign(cmd, args[0])
	},
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status CAMPAIGN_ID",
	Short: "Show campaign status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		campaign, err := env.Orchestrator.Status(ctx, args[0])
		if err != nil {
			return err
		}
		targets, err := env.Store.ListTargets(ctx, args[0])
		if err != nil {
			return err
		}
		completed := 0
		for _, t := range targets {
			if t.Completed {
				completed++
			}
		}

		fmt.Printf("%s (%s)\n", campaign.Name, campaign.ID)
		fmt.Printf("  Status:     %s\n", campaign.Status)
		fmt.Printf("  Geography:  %s\n", campaign.Geography)
		fmt.Printf("  Targets:    %d/%d complete\n", completed, len(targets))
		fmt.Printf("  Businesses: %d\n", campaign.TotalBusinesses)
		fmt.Printf("  Emails:     %d\n", campaign.TotalEmails)
		fmt.Printf("  Spend:      $%.2f (estimated $%.2f)\n", campaign.ActualCost, campaign.EstimatedCost)
		if campaign.ErrorNote != "" {
			fmt.Printf("  Note:       %s\n", campaign.ErrorNote)
		}
		return nil
	},
}

var campaignAnalyticsCmd = &cobra.Command{
	Use:   "analytics CAMPAIGN_ID",
	Short: "Show campaign unit economics as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		analytics, err := env.Orchestrator.Analytics(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analytics)
	},
}

var listStatus string

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		campaigns, err := env.Store.ListCampaigns(ctx, store.CampaignFilter{
			Status: model.CampaignStatus(listStatus),
		})
		if err != nil {
			return err
		}
		for _, c := range campaigns {
			fmt.Printf("%s  %-10s  %-30s  %d businesses, %d emails, $%.2f\n",
				c.ID, c.Status, c.Name, c.TotalBusinesses, c.TotalEmails, c.ActualCost)
		}
		return nil
	},
}

var (
	exportPath       string
	exportSafeOnly   bool
	exportSalesforce bool
)

var campaignExportCmd = &cobra.Command{
	Use:   "export CAMPAIGN_ID",
	Short: "Export campaign leads to XLSX and optionally Salesforce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := export.Options{SafeOnly: exportSafeOnly}

		path := exportPath
		if path == "" {
			path = fmt.Sprintf("campaign-%s.xlsx", args[0])
		}
		n, err := env.Exporter.WriteXLSX(ctx, args[0], path, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d leads to %s\n", n, path)

		if exportSalesforce {
			sf, err := initSalesforce()
			if err != nil {
				return err
			}
			created, skipped, err := env.Exporter.PushSalesforce(ctx, sf, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Salesforce: %d leads created, %d already existed\n", created, skipped)
		}
		return nil
	},
}

var reconcileStaleAfter time.Duration

var campaignReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve campaigns stranded in running by a dead process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		touched, err := env.Orchestrator.Reconcile(ctx, reconcileStaleAfter)
		if err != nil {
			return err
		}
		if len(touched) == 0 {
			fmt.Println("No stale campaigns")
			return nil
		}
		for _, c := range touched {
			fmt.Printf("Reconciled %s (%s)\n", c.ID, c.Name)
		}
		return nil
	},
}

func init() {
	campaignCreateCmd.Flags().StringSliceVarP(&createKeywords, "keyword", "k", nil, "business keyword (repeatable)")
	campaignCreateCmd.Flags().StringVarP(&createGeography, "geography", "g", "", "postal code, \"City, ST\", state list, or \"us\"")
	campaignCreateCmd.Flags().StringVarP(&createProfile, "profile", "p", "balanced", "coverage profile: budget, balanced, aggressive")
	campaignCreateCmd.Flags().BoolVar(&createRun, "run", false, "execute immediately after creating")
	_ = campaignCreateCmd.MarkFlagRequired("keyword")
	_ = campaignCreateCmd.MarkFlagRequired("geography")

	campaignListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")

	campaignExportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "output path (default campaign-ID.xlsx)")
	campaignExportCmd.Flags().BoolVar(&exportSafeOnly, "safe-only", false, "export only verified-safe emails")
	campaignExportCmd.Flags().BoolVar(&exportSalesforce, "salesforce", false, "also push leads to Salesforce")

	campaignReconcileCmd.Flags().DurationVar(&reconcileStaleAfter, "stale-after", time.Hour, "running campaigns idle longer than this are reconciled")

	campaignCmd.AddCommand(
		campaignCreateCmd,
		campaignRunCmd,
		campaignPauseCmd,
		campaignResumeCmd,
		campaignStatusCmd,
		campaignAnalyticsCmd,
		campaignListCmd,
		campaignExportCmd,
		campaignReconcileCmd,
	)
	rootCmd.AddCommand(campaignCmd)
}
