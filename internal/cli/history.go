package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/chartbot/internal/feedback"
)

type HistoryCmd struct{}

func NewHistoryCmd() *HistoryCmd {
	return &HistoryCmd{}
}

func (c *HistoryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := globalFlags(cmd)
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}

			fb, err := feedback.NewLog(feedback.Config{Logger: g.log, Path: g.feedbackPath})
			if err != nil {
				return err
			}
			records, err := fb.Records(cmdContext(cmd))
			if err != nil {
				return err
			}
			first := 0
			if limit > 0 && len(records) > limit {
				first = len(records) - limit
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "No feedback recorded in %s\n", fb.Path())
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.SetAutoWrapText(false)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"#", "Request", "Verdict", "Recorded At", "User Input"})
			for i := first; i < len(records); i++ {
				r := records[i]
				table.Append([]string{
					fmt.Sprintf("%d", i+1),
					orDash(r.RequestID),
					string(r.Feedback),
					recordedAt(r.RecordedAt),
					truncate(r.UserInput, 60),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "show only the most recent N entries (0 shows all)")
	return cmd
}

func recordedAt(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
