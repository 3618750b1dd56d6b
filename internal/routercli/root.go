// Package routercli is the hookrouter command tree. The root command routes
// one event; subcommands inspect the registry and the audit journal.
package routercli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-hook-router/config"
	"github.com/oremus-labs/ol-hook-router/internal/logutil"
	"github.com/oremus-labs/ol-hook-router/internal/registry"
)

// Version is stamped at build time with -ldflags "-X ...routercli.Version=".
var Version = "0.1.0-dev"

// exitFatal is the status for faults in the router itself. Go's own panic
// status (2) would read as "block" to the host.
const exitFatal = 1

// app carries state shared by the command tree for one execution.
type app struct {
	cfgFile      string
	clientName   string
	outputFormat string

	cfg      *config.Config
	exitCode int
}

// Execute runs the CLI against the process's stdio and returns the exit
// status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// Run executes the command tree with explicit arguments and streams.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			logutil.Error("router_panic", fmt.Errorf("%v", r), nil)
			code = exitFatal
		}
	}()

	a := &app{}
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		logutil.Error("router_fatal", err, nil)
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitFatal
	}
	return a.exitCode
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hookrouter [event]",
		Short: "Route one host hook event to its registered handlers",
		Long: `hookrouter reads one event envelope on stdin, runs every handler registered
for it (async handlers first, then sync handlers in order, then async
collection), merges their results and writes one JSON reply on stdout. The
process exit status is the aggregate handler exit status.

Claude Code names the event inside the envelope. Gemini CLI passes it as the
first argument: hookrouter --client gemini BeforeTool`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logutil.SetLevel(logutil.ParseLevel(cfg.LogLevel))
			return nil
		},
		RunE: a.runRoute,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Path to the hookrouter settings file (default $"+config.ConfigEnv+")")
	root.PersistentFlags().StringVarP(&a.outputFormat, "output", "o", "table", "Output format for inspection commands: table|json")
	root.Flags().StringVar(&a.clientName, "client", "claude", "Host runtime: claude|gemini")

	root.AddCommand(a.newRegistryCmd())
	root.AddCommand(a.newAuditCmd())
	root.AddCommand(a.newEventsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadRegistry returns the configured registry file, or the built-in table
// when none is configured.
func (a *app) loadRegistry(path string) (*registry.Registry, error) {
	opts := registry.Options{HookDir: a.cfg.HookDir, DefaultTimeout: a.cfg.HandlerTimeout}
	if path == "" {
		path = a.cfg.RegistryPath
	}
	if path == "" {
		return registry.Default(opts), nil
	}
	reg, err := registry.Load(path, opts)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}
