package routercli

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-hook-router/internal/audit"
	"github.com/oremus-labs/ol-hook-router/internal/client"
	"github.com/oremus-labs/ol-hook-router/internal/dispatch"
	"github.com/oremus-labs/ol-hook-router/internal/events"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
	"github.com/oremus-labs/ol-hook-router/internal/redisx"
	"github.com/oremus-labs/ol-hook-router/internal/router"
	"github.com/oremus-labs/ol-hook-router/internal/trace"
)

var emptyReply = []byte("{}")

func (a *app) runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	event := ""
	if len(args) > 0 {
		event = args[0]
	}

	adapter, err := client.ForName(a.clientName, client.Options{GeminiSessionFile: a.cfg.GeminiSessionFile})
	if err != nil {
		return err
	}

	env, route, err := adapter.Prepare(event, router.ReadEnvelope(cmd.InOrStdin()))
	if err != nil {
		return err
	}
	if !route {
		a.exitCode = 0
		return writeReply(cmd.OutOrStdout(), emptyReply)
	}

	reg, err := a.loadRegistry("")
	if err != nil {
		return err
	}

	recorders := trace.Multi{trace.Log{}}
	opts := router.Options{
		Registry:        reg,
		Client:          adapter.Name(),
		MetricsTextfile: a.cfg.MetricsTextfile,
		HostTimeout:     a.cfg.HostTimeout,
	}
	if rdb := a.openRedis(ctx); rdb != nil {
		defer rdb.Close()
		if a.cfg.TraceEnabled() {
			stream := trace.NewStream(rdb, a.cfg.TraceStream, a.cfg.TraceMaxLen)
			recorders = append(recorders, stream)
			opts.Trace = stream
		}
		if a.cfg.EventsEnabled() {
			opts.Events = events.NewBus(events.Options{Client: rdb, Channel: a.cfg.EventsChannel})
		}
	}
	if journal := a.openJournal(ctx); journal != nil {
		defer journal.Close()
		opts.Journal = journal
	}
	timeoutExitCode := a.cfg.TimeoutExitCode
	opts.Dispatcher = dispatch.New(dispatch.Options{
		HookDir:         reg.HookDir(),
		TimeoutExitCode: &timeoutExitCode,
		MaxOutputBytes:  a.cfg.MaxOutputBytes,
		Recorder:        recorders,
		Diagnostics:     cmd.ErrOrStderr(),
	})

	reply, err := router.New(opts).RouteEnvelope(ctx, env)
	if err != nil {
		return err
	}

	hostEvent := event
	if hostEvent == "" {
		hostEvent = reply.Event
	}
	body, err := adapter.Render(hostEvent, reply.Body)
	if err != nil {
		return fmt.Errorf("render %s reply: %w", adapter.Name(), err)
	}
	a.exitCode = reply.ExitCode
	return writeReply(cmd.OutOrStdout(), body)
}

func writeReply(w io.Writer, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s\n", body); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// openRedis connects to Redis when an address is configured. Failures
// disable the Redis side channels for this invocation.
func (a *app) openRedis(ctx context.Context) redis.UniversalClient {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:        a.cfg.RedisAddr,
		Username:    a.cfg.RedisUsername,
		Password:    a.cfg.RedisPassword,
		DB:          a.cfg.RedisDB,
		TLSEnabled:  a.cfg.RedisTLSEnabled,
		TLSInsecure: a.cfg.RedisTLSInsecure,
	})
	if err != nil {
		logutil.Warn("redis_unavailable", map[string]interface{}{
			"addr":  a.cfg.RedisAddr,
			"error": err.Error(),
		})
		return nil
	}
	return rdb
}

// openJournal opens the audit journal when configured. Failures disable
// journaling for this invocation.
func (a *app) openJournal(ctx context.Context) *audit.Journal {
	if !a.cfg.AuditEnabled() {
		return nil
	}
	j, err := audit.Open(ctx, a.cfg.AuditDSN, a.cfg.AuditDriver)
	if err != nil {
		logutil.Warn("audit_unavailable", map[string]interface{}{
			"driver": a.cfg.AuditDriver,
			"error":  err.Error(),
		})
		return nil
	}
	return j
}
