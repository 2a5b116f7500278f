/*
Copyright 2025 Rentora Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rentora/billing/api"
	"github.com/rentora/billing/config"
)

func initializeRouter(b *billingInstance) (*gin.Engine, error) {
	a, err := api.NewAPI(b.billing)
	if err != nil {
		return nil, err
	}
	return a.Router(), nil
}

// startServer serves HTTP until ctx is canceled, then drains in-flight
// requests with a bounded shutdown window.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands returns the Cobra command that starts the billing server:
// the webhook queue, the dunning scheduler and the HTTP surface.
func serverCommands(b *billingInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start billing server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router, err := initializeRouter(b)
			if err != nil {
				log.Fatal(err)
			}

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			b.billing.Start(ctx)
			defer b.billing.Stop()

			if err := startServer(ctx, router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
