package main

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/wayfarer/internal/runtime"
	"github.com/mohammad-safakhou/wayfarer/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(opts *rootOptions) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP approval API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts.cfgPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			httpLogger := newLogger("HTTP")
			secret, err := runtime.LoadJWTSecret(a.cfg)
			if errors.Is(err, runtime.ErrNoSecret) {
				httpLogger.Printf("server.jwt_secret not set, API is unauthenticated")
			} else if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			srv := server.New(a.engine, server.Options{Secret: secret, Metrics: a.tel.Handler(), Logger: httpLogger})

			return runtime.RunUntilSignal(cmd.Context(), "serve", httpLogger, func(ctx context.Context) error {
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start(addr) }()
				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}
