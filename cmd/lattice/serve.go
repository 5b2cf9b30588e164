package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/lattice/internal/presentation/tui"
	httpAdapter "github.com/aretw0/lattice/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a lattice node",
	Long: `Starts a node: the HTTP session API, the membership heartbeat (redis backend)
and the background scavenger. SIGINT or SIGTERM shuts everything down gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			tui.PrintBanner(f, a.cfg.NodeID)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpAdapter.NewHandler(a.manager,
			httpAdapter.WithLogger(a.logger),
			httpAdapter.WithGatherer(a.registry),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.heartbeat != nil {
		g.Go(func() error {
			return a.heartbeat.Run(ctx)
		})
	}

	g.Go(func() error {
		if err := a.manager.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		// Waits for an in-flight sweep.
		a.manager.Stop()
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Starting lattice node",
			"addr", srv.Addr,
			"backend", a.cfg.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Start shutdown...")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("Lattice node stopped")
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
}
