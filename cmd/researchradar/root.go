package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ResearchRadar/internal/app"
	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/logging"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "researchradar",
		Short:         "Tracks LLM-in-mental-health content across sources and forwards relevant items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd(), testCmd(), scheduleCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the ingestion pipeline once and print the run report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, application, err := setup()
			if err != nil {
				return err
			}
			defer application.Close()

			report, runErr := application.RunOnce(ctx)
			printReport(report)
			if runErr != nil {
				return fmt.Errorf("run aborted: %w", runErr)
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify the Telegram bot token and chat by sending a probe message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, application, err := setup()
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.TestTelegram(ctx); err != nil {
				color.Red("Telegram connection test failed: %v", err)
				return err
			}
			color.Green("Telegram connection test passed")
			return nil
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline continuously on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, application, err := setup()
			if err != nil {
				return err
			}
			defer application.Close()

			return application.RunScheduled(ctx)
		},
	}
}

// setup loads config, builds the application and installs interrupt
// handling so a run can be cancelled cleanly between items.
func setup() (context.Context, *app.Application, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_ = stop // released on process exit

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return ctx, application, nil
}

func printReport(report domain.RunReport) {
	bold := color.New(color.Bold)

	bold.Printf("Run %s (%s)\n", report.RunID, report.Elapsed().Round(time.Millisecond))
	for _, src := range report.Sources {
		fmt.Printf("  %-24s fetched=%d deduped=%d filtered=%d relevant=%d delivered=%d skipped=%d failed=%d\n",
			src.Source, src.Fetched, src.Deduped, src.Filtered,
			src.Relevant, src.Delivered, src.Skipped, src.Failed)
		if src.Degraded > 0 {
			color.Yellow("    degraded classifications: %d", src.Degraded)
		}
		if src.ExtractionFailed > 0 {
			color.Yellow("    extraction failures: %d", src.ExtractionFailed)
		}
		if src.Err != "" {
			color.Red("    error: %s", src.Err)
		}
	}

	totals := report.Totals()
	bold.Printf("  total: fetched=%d delivered=%d\n", totals.Fetched, totals.Delivered)

	if report.Aborted {
		color.Red("Run aborted: %s", report.Err)
	}
}
