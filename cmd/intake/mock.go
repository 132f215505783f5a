package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/intake/internal/server"
)

var mockAPICmd = &cobra.Command{
	Use:   "mock-api",
	Short: "Run a stand-in applications API for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e := server.NewMockAPI(server.Options{ServiceName: cfg.AppName + "-mock", Logger: logger}, cfg.MockAPIFailRate)
		addr := fmt.Sprintf(":%d", cfg.MockAPIPort)

		errCh := make(chan error, 1)
		go func() { errCh <- e.Start(addr) }()
		logger.Infof("Mock applications API listening on %s (fail rate %.2f)", addr, cfg.MockAPIFailRate)

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}
