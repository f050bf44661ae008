package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/zeromonos/internal/httpapi"
	"github.com/mesh-intelligence/zeromonos/internal/lifecycle"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: "Attach the configured backend and serve the residue, request and status\n" +
			"API until interrupted.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.settings.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd, listen, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: listen_addr from config)")
	return cmd
}

// serve runs the HTTP API on addr until ctx is canceled. When ready is
// non-nil the bound address is offered to it once the listener is open.
// The send does not block, so ready should have a buffer of one.
func (a *app) serve(ctx context.Context, cmd *cobra.Command, addr string, ready chan<- net.Addr) error {
	logger, err := newLogger(cmd.ErrOrStderr(), a.settings.LogLevel, a.settings.LogFormat)
	if err != nil {
		return err
	}
	depot, err := a.attachDepot()
	if err != nil {
		return err
	}
	defer depot.Detach()

	engine := lifecycle.New(depot, lifecycle.WithLogger(logger))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           httpapi.New(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("http server listening", "address", listener.Addr().String(), "backend", a.settings.Backend)
	if ready != nil {
		select {
		case ready <- listener.Addr():
		default:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
