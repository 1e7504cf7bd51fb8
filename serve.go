package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/authsession/internal/devserver"
)

// Server lifecycle tuning shared by `serve` and `gateway`.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	pruneInterval     = time.Hour
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local development backend",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "listen address (overrides devserver.listen)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	dc := cc.Cfg.Devserver

	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}

	if listen == "" {
		listen = dc.Listen
	}

	unlock, err := writePIDFile(pidPathFor(dc.Database))
	if err != nil {
		return err
	}
	defer unlock()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	srv, err := devserver.New(ctx, devserver.Config{
		Database:     dc.Database,
		SigningKey:   []byte(dc.SigningKey),
		AccessTTL:    dc.AccessTTLDuration(),
		RefreshTTL:   dc.RefreshTTLDuration(),
		SeedEmail:    dc.SeedEmail,
		SeedPassword: dc.SeedPassword,
	}, cc.Logger)
	if err != nil {
		return fmt.Errorf("starting devserver: %w", err)
	}
	defer srv.Close()

	go pruneLoop(ctx, srv, cc.Logger)

	return serveHTTP(ctx, listen, srv.Handler(), cc.Logger)
}

// pruneLoop deletes spent refresh tokens until ctx is canceled.
func pruneLoop(ctx context.Context, srv *devserver.Server, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := srv.Prune(ctx); err != nil {
				logger.Warn("pruning refresh tokens", slog.String("error", err.Error()))
			}
		}
	}
}

// serveHTTP listens on addr and serves h until ctx is canceled, then shuts
// down gracefully.
func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() { errCh <- server.Serve(ln) }()

	logger.Info("listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")

	return nil
}
