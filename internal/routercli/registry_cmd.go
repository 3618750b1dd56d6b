package routercli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-hook-router/internal/registry"
)

type registryRow struct {
	Key         string `json:"key"`
	Handler     string `json:"handler"`
	Mode        string `json:"mode"`
	TimeoutMs   int    `json:"timeoutMs"`
	WorstCaseMs int64  `json:"worstCaseMs"`
}

func (a *app) newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the event handler registry",
	}

	var event string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered handlers per event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry("")
			if err != nil {
				return err
			}
			rows := registryRows(reg, event)
			asJSON, err := a.jsonOutput()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No handlers registered.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintf(tw, "EVENT\tHANDLER\tMODE\tTIMEOUT\tWORST CASE\n")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Key, r.Handler, r.Mode, formatMillis(r.TimeoutMs), formatMillis(int(r.WorstCaseMs)))
			}
			flushTable(tw)
			return nil
		},
	}
	list.Flags().StringVar(&event, "event", "", "Only show this event (Event or Event:Variant)")

	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a registry file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.RegistryPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no registry file given and none configured")
			}
			reg, err := a.loadRegistry(path)
			if err != nil {
				var verr *registry.ValidationError
				if errors.As(err, &verr) {
					for _, msg := range verr.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", msg)
					}
				}
				return err
			}
			out := cmd.OutOrStdout()
			keys := reg.Keys()
			for _, key := range keys {
				worst := registry.WorstCaseLatency(reg.Lookup(splitKey(key)))
				if a.cfg.HostTimeout > 0 && worst > a.cfg.HostTimeout {
					fmt.Fprintf(out, "warning: %s worst-case latency %s exceeds host timeout %s\n", key, worst, a.cfg.HostTimeout)
				}
			}
			fmt.Fprintf(out, "%s: ok (%d entries)\n", path, len(keys))
			return nil
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}

func registryRows(reg *registry.Registry, only string) []registryRow {
	var rows []registryRow
	for _, key := range reg.Keys() {
		if only != "" && key != only {
			continue
		}
		handlers := reg.Lookup(splitKey(key))
		worst := registry.WorstCaseLatency(handlers).Milliseconds()
		for _, h := range handlers {
			rows = append(rows, registryRow{
				Key:         key,
				Handler:     h.Label(),
				Mode:        string(h.Mode()),
				TimeoutMs:   int(h.Timeout().Milliseconds()),
				WorstCaseMs: worst,
			})
		}
	}
	return rows
}

// splitKey reverses registry.Key.
func splitKey(key string) (string, string) {
	event, variant, _ := strings.Cut(key, ":")
	return event, variant
}
