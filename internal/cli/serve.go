package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/KafClaw/wsagent/internal/agent"
	"github.com/KafClaw/wsagent/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Monitor workspaces and answer user messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printHeader(cmd.OutOrStdout(), "🛰️ wsagent serve")
		return runServe(ctx, cfg, nil, cmd.OutOrStdout(), nil)
	},
}

// runServe starts the orchestrator and the API listener, and blocks until
// ctx is cancelled or the listener fails. When ready is non-nil it receives
// the bound address once the listener is up.
func runServe(ctx context.Context, cfg *config.Config, llm agent.Caller, out io.Writer, ready chan<- string) error {
	rt, err := buildRuntime(cfg, llm)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = rt.orch.Shutdown(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           newAPIHandler(rt.orch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := rt.orch.Start(ctx); err != nil {
		_ = ln.Close()
		_ = rt.orch.Shutdown(context.Background())
		return err
	}
	fmt.Fprintf(out, "📡 API listening on http://%s\n", ln.Addr())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := rt.orch.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		if err := server.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	fmt.Fprintln(out, "👋 Stopped")
	return err
}
