package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stadspuls/eventpipe/internal/healer"
)

// printJSON writes a one-shot result to stdout for scripting.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func coordinateCommand() *cobra.Command {
	var sourceIDs []string
	cmd := &cobra.Command{
		Use:   "coordinate",
		Short: "Run one coordinator tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.coordinator.Tick(cmd.Context(), sourceIDs)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringSliceVar(&sourceIDs, "source", nil, "limit the tick to these source IDs")
	return cmd
}

func workCommand() *cobra.Command {
	var deepScrape bool
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Claim and process one batch of scrape jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.worker.Drain(cmd.Context(), deepScrape)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.AllSucceeded() {
				return fmt.Errorf("%d of %d jobs failed", result.Failed, result.Processed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deepScrape, "deep", false, "open detail pages for missing start times")
	return cmd
}

func discoverCommand() *cobra.Command {
	var batchID string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Process one pending discovery job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.discovery.Run(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "limit to jobs in this batch")
	return cmd
}

func healCommand() *cobra.Command {
	var mode string
	var sourceID string
	var limit int
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Diagnose or repair drifted sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.healer.Run(cmd.Context(), healer.Options{
				Mode:     healer.Mode(mode),
				SourceID: sourceID,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(healer.ModeDiagnose), "diagnose, repair or unquarantine")
	cmd.Flags().StringVar(&sourceID, "source", "", "limit to one source ID")
	cmd.Flags().IntVar(&limit, "limit", healer.DefaultLimit, "maximum sources to examine")
	return cmd
}

func enrichCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run one enrichment sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.enrich == nil {
				return fmt.Errorf("enrichment requires OPENAI_API_KEY")
			}
			result, err := a.enrich.Sweep(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum staged rows to enrich (0 uses the default)")
	return cmd
}

func dlqCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dlq-sweep",
		Short: "Retry or discard due dead-letter items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.dlq.Sweep(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", dlqSweepLimit, "maximum items per sweep")
	return cmd
}
