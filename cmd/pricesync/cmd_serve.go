package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/api"
	"github.com/codyseavey/tcg-pricesync/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only reporting API and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr = addr
			}
			ctx := cmd.Context()

			if cards, history, err := a.store.CountRows(ctx); err == nil {
				metrics.CardDatabaseSize.Set(float64(cards))
				metrics.PriceHistoryRows.Set(float64(history))
				a.log.Info("Card database loaded", zap.Int64("cards", cards), zap.Int64("price_rows", history))
			}

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           api.SetupRouter(a.store, a.cfg, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("Starting server", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			a.log.Info("Shutting down server")

			// Give outstanding requests a deadline to complete
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("Server forced to shutdown", zap.Error(err))
				return err
			}
			a.log.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides listen_addr)")
	return cmd
}
