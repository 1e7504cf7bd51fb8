package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/credstore"
	"github.com/tonimelisma/authsession/internal/gateway"
	"github.com/tonimelisma/authsession/internal/session"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the server-side rendering gateway in front of the backend",
		RunE:  runGateway,
	}

	cmd.Flags().String("listen", "", "listen address (overrides gateway.listen)")

	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}

	if listen == "" {
		listen = cfg.Gateway.Listen
	}

	// The session stack supplies the buses that tell a visitor's other
	// sessions about a sign-out, one scope per visitor.
	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	gw := gateway.New(gateway.Config{
		Session: session.Config{
			BaseURL:    cfg.Server.BaseURL,
			HTTPClient: defaultHTTPClient(cfg.Server.TimeoutDuration()),
			Names: credstore.Names{
				Access:  cfg.Credentials.AccessTokenName,
				Refresh: cfg.Credentials.RefreshTokenName,
			},
			StoreOptions: credstore.Options{
				MaxAge: cfg.Credentials.MaxAgeDuration(),
				Path:   cfg.Credentials.Path,
			},
			RefreshTimeout: cfg.Server.RefreshTimeoutDuration(),
			UserAgent:      userAgent(cfg),
			Logger:         cc.Logger,
		},
		EntryPath: cfg.Gateway.EntryPath,
		BusFor: func(origin string) broadcast.Bus {
			return s.BusFor(cfg, origin, cc.Logger)
		},
		Logger: cc.Logger,
	})

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	return serveHTTP(ctx, listen, gw.Handler(), cc.Logger)
}
