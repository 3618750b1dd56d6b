package routercli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-hook-router/internal/events"
)

func (a *app) newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow routed events published on Redis",
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream route.completed notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.EventsEnabled() {
				return errors.New("events not configured (set REDIS_ADDR)")
			}
			rdb := a.openRedis(cmd.Context())
			if rdb == nil {
				return fmt.Errorf("redis %s unreachable", a.cfg.RedisAddr)
			}
			defer rdb.Close()

			out := cmd.OutOrStdout()
			bus := events.NewBus(events.Options{Client: rdb, Channel: a.cfg.EventsChannel})
			return bus.Watch(cmd.Context(), func(evt events.Event) {
				_ = printJSON(out, evt)
			})
		},
	}

	cmd.AddCommand(watch)
	return cmd
}
