package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spyglass-ide/spyglass/internal/cli/config"
	"github.com/spyglass-ide/spyglass/internal/host"
	"github.com/spyglass-ide/spyglass/internal/hub"
	"github.com/spyglass-ide/spyglass/internal/statusd"
)

// newServeCommand creates the serve command: the hub, the stdio host
// adapter, the status server and the config watcher under one errgroup.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub, speaking JSON-RPC with the host over stdio",
		Long: `Runs the spyglass hub. The host editor connects over stdin/stdout
using JSON-RPC; document, focus and session events flow in, and the
committed active context and aggregated diagnostics flow back out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())
			logger := getLogger(cmd.Context())

			h := hub.New(hub.Options{
				Logger:         logger,
				ConfigSuffixes: cfg.ConfigSuffixes,
				AggregateMode:  cfg.Aggregate,
			})
			defer h.Close()

			// Projects from configuration are registered before any
			// host event can arrive.
			for _, p := range cfg.Projects {
				h.RegisterProject(p.Name, p.Dir, p.Targets)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			eg, egctx := errgroup.WithContext(ctx)

			eg.Go(func() error {
				err := h.Run(egctx)
				if err == context.Canceled {
					return nil
				}
				return err
			})

			adapter := host.NewServer(h, os.Stdin, os.Stdout, logger)
			eg.Go(func() error {
				defer cancel()
				return adapter.Run(egctx)
			})

			if cfg.StatusPort > 0 {
				srv := statusd.NewServer(h, cfg.StatusPort, logger)
				eg.Go(func() error {
					return srv.Serve(egctx)
				})
			}

			if used := config.GetConfigFileUsed(); used != "" {
				eg.Go(func() error {
					return config.Watch(egctx, used, logger, func(fresh *config.Config) {
						h.Loop().Post(func() {
							h.SetAggregationMode(fresh.Aggregate)
							known := make(map[string]bool)
							for _, p := range h.Sessions().Projects() {
								known[p.Name] = true
							}
							for _, p := range fresh.Projects {
								if !known[p.Name] {
									h.RegisterProject(p.Name, p.Dir, p.Targets)
								}
							}
						})
					})
				})
			}

			return eg.Wait()
		},
	}
}
