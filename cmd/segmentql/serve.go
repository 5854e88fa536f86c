package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/export"
	"github.com/rpattn/segmentql/internal/middleware"
	"github.com/rpattn/segmentql/internal/schema/registry"
	"github.com/rpattn/segmentql/internal/segmentation"
)

const serveHelp = `Starts the HTTP API.

Routes:
  /api/fields/    field catalog and custom field management
  /api/preview    live filter preview
  /api/segments/  saved segments
  /api/lists/     static and dynamic lists
  /api/exports/   CSV and XLSX downloads
  /healthz        liveness and catalog state`

func serveCmd(rt *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  serveHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				rt.cfg.Server.Addr = addr
			}
			return rt.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides server.addr")
	return cmd
}

func newRouter(a *app, logger *slog.Logger, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/fields/", http.StripPrefix("/api/fields", registry.NewHTTPHandler(a.registry)))
	mux.Handle("/api/exports/", http.StripPrefix("/api/exports", export.NewHTTPHandler(a.exports)))
	mux.Handle("/api/", http.StripPrefix("/api", segmentation.NewHTTPHandler(a.segmentation, a.segments)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"degraded": a.registry.Degraded(),
		})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Export-Rows", "X-Export-Partial"},
	})

	return corsHandler.Handler(
		middleware.LoggingMiddleware(logger)(
			middleware.DataLoaderMiddleware(a.stores.records)(mux),
		),
	)
}

func (rt *cli) serve(ctx context.Context) error {
	a, err := rt.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         rt.cfg.Server.Addr,
		Handler:      newRouter(a, rt.logger, rt.cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		rt.logger.Info("starting HTTP server", "addr", server.Addr, "driver", rt.cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serverErr:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}
	rt.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	rt.logger.Info("server exited")
	return nil
}
