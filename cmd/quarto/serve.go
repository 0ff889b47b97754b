package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"quarto/internal/config"
	"quarto/internal/hub"
	"quarto/internal/room"
	"quarto/internal/server"
	"quarto/internal/storage"
)

var (
	flagAddr      string
	flagDBPath    string
	flagEphemeral bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the room server",
	Long: `Start the HTTP room server.

Rooms are persisted to SQLite and survive restarts; pass --ephemeral to
keep everything in memory instead. Rooms idle out after the configured
TTL (24h by default).

Examples:
  quarto serve
  quarto serve --addr :9000 --db /var/lib/quarto/rooms.db
  quarto serve --ephemeral`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&flagDBPath, "db", "", "SQLite database path (overrides config)")
	serveCmd.Flags().BoolVar(&flagEphemeral, "ephemeral", false, "Keep rooms in memory only")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}
	if flagDBPath != "" {
		cfg.Server.DBPath = flagDBPath
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "quarto",
	})

	var db *storage.Store
	if !flagEphemeral {
		db, err = storage.Open(cfg.Server.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	store := room.NewStore(db, logger)
	if db != nil {
		if err := store.Restore(); err != nil {
			logger.Warn("restore rooms", "err", err)
		} else if n := store.Count(); n > 0 {
			logger.Info("restored rooms", "count", n)
		}
	}

	stop := make(chan struct{})
	go store.SweepLoop(stop, cfg.Server.SweepInterval.D(), cfg.Server.RoomTTL.D())

	srv := server.New(store, hub.New(), cfg.Connection, logger)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		close(stop)
		return err
	case <-ctx.Done():
	}

	close(stop)
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
