package routercli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-hook-router/internal/audit"
)

func (a *app) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the invocation journal",
	}

	var (
		event string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently routed events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.AuditEnabled() {
				return errors.New("audit journal not configured (set HOOKROUTER_AUDIT=true or HOOKROUTER_AUDIT_DSN)")
			}
			j, err := audit.Open(cmd.Context(), a.cfg.AuditDSN, a.cfg.AuditDriver)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), event, limit)
			if err != nil {
				return fmt.Errorf("list audit entries: %w", err)
			}
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit entries found.")
				return nil
			}
			tw := newTable(out)
			fmt.Fprintf(tw, "TIME\tCLIENT\tEVENT\tVARIANT\tEXIT\tHANDLERS\tDURATION\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					formatTimestamp(e.CreatedAt), e.Client, e.Event, dash(e.Variant), e.ExitCode, len(e.Handlers), formatMillis(int(e.DurationMs)))
			}
			flushTable(tw)
			return nil
		},
	}
	list.Flags().StringVar(&event, "event", "", "Filter by event name")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")

	cmd.AddCommand(list)
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
