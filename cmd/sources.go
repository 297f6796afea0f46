package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stadspuls/eventpipe/internal/domain"
)

func sourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List all configured sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.sources.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				a.logger.Info("no sources configured")
				return nil
			}
			renderSourceTable(sources)
			return nil
		},
	}
}

func renderSourceTable(sources []*domain.Source) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Name", "Tier", "Strategy", "Enabled", "Quarantined", "Volatility", "Errors", "Next Scrape"})
	for _, src := range sources {
		next := "-"
		if src.NextScrapeAt != nil {
			next = src.NextScrapeAt.Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{
			src.Name,
			src.Tier,
			src.FetchStrategy,
			src.Enabled,
			src.Quarantined,
			src.VolatilityScore,
			src.ConsecutiveErrors,
			next,
		})
	}
	t.Render()
}
