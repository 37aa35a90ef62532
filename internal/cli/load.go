package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/chartbot/internal/dataset"
)

type LoadCmd struct{}

func NewLoadCmd() *LoadCmd {
	return &LoadCmd{}
}

func (c *LoadCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Rebuild the dataset from the CSV directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := globalFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := dataset.Build(ctx, g.dataset)
			if err != nil {
				return fmt.Errorf("failed to build dataset: %w", err)
			}
			defer store.Close()

			counts, err := store.Counts(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataset: %s (%s)\n", store.Path(), store.Engine())
			table := tablewriter.NewWriter(out)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"Table", "Rows"})
			var total int64
			for _, t := range dataset.Tables {
				table.Append([]string{t.Name, fmt.Sprintf("%d", counts[t.Name])})
				total += counts[t.Name]
			}
			table.SetFooter([]string{"Total", fmt.Sprintf("%d", total)})
			table.Render()
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
