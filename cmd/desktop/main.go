// Package main runs the local API server the desktop UI talks to. It hosts
// the sync core and serves REST plus a status WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/homeinventory/cmd/desktop/handlers"
	"github.com/kimhsiao/homeinventory/internal/app"
	"github.com/kimhsiao/homeinventory/internal/config"
	"github.com/kimhsiao/homeinventory/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "homeinv-desktop",
		Short:         "Home inventory desktop server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var port, dataDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local API and run the sync core",
		Long: `Serve the inventory API on localhost and keep the sync core running.

Edits are accepted offline and queued; the queue drains to the remote
service whenever connectivity is available. Settings come from the
environment or a .env file (see DATA_DIR, REMOTE_BASE_URL, S3_*).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			if dataDir != "" {
				cfg.Database.DataDir = dataDir
			}
			initLogging(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "database directory (overrides DATA_DIR)")
	return cmd
}

func initLogging(cfg config.LogConfig) {
	out := logging.NewWriter(logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
	logging.Init(out, logging.ParseLevel(cfg.Level))
}

// server bundles the HTTP handler with the hub feeding /ws/status.
type server struct {
	handler http.Handler
	hub     *StatusHub
	detach  []func()
}

func newServer(a *app.App) *server {
	hub := NewStatusHub(a.Status.Current)
	router := handlers.NewRouter(handlers.Deps{
		Inventory:    a.Inventory,
		Status:       a.Status,
		Sync:         a.Scheduler,
		Connectivity: a.Connectivity,
		Service:      "homeinventory-desktop",
	})
	router.Handle("/ws/status", hub)

	return &server{
		handler: router,
		hub:     hub,
		detach: []func(){
			a.Status.Subscribe(hub.BroadcastStatus),
			a.SubscribeEvents(hub),
		},
	}
}

func (s *server) close() {
	for _, fn := range s.detach {
		fn()
	}
	s.hub.Close()
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.Get().Component("desktop")

	a, err := app.New(app.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := newServer(a)
	defer srv.close()

	httpServer := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Server.Port,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", map[string]interface{}{
			"addr":    httpServer.Addr,
			"version": Version,
			"remote":  cfg.Remote.BaseURL,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", err)
	}
	a.Stop()
	return nil
}
