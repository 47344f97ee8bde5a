package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/druiz27/vetlot/internal/api"
	"github.com/druiz27/vetlot/internal/config"
	"github.com/druiz27/vetlot/internal/logging"
	"github.com/druiz27/vetlot/internal/lot"
	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/notify"
	"github.com/druiz27/vetlot/internal/reminder"
	"github.com/druiz27/vetlot/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr string
	dbPath     string
	configPath string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the vetlot daemon",
	Long:  `Starts the vetlot daemon which hosts the control API and the periodic reminder engine.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ~/.vetlot/config.yaml)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	log, err := logging.New(cfg.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	scheduler := lot.New(s, log)
	matcher := reminder.NewMatcher(s, log)
	dispatcher := notify.NewLogDispatcher(log, nil)
	engine := reminder.NewEngine(s, matcher, dispatcher, cfg.TickInterval, log)

	service := api.NewService(s, scheduler, matcher)
	server := api.NewServer(service, log, cfg.ListenAddr)

	engine.Start()

	// Live view over the scheduled backlog; each committed write re-emits.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	sub := store.Watch(watchCtx, s, func(ctx context.Context) ([]models.Dose, error) {
		return s.ListScheduledPending(ctx)
	})
	go func() {
		for snapshot := range sub.Updates() {
			log.Info("scheduled doses pending", zap.Int("count", len(snapshot)))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
			shutdownDaemon(context.Background(), log, engine, server, s)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownDaemon(shutdownCtx, log, engine, server, s)
	log.Info("shutdown complete")
	return nil
}

// shutdownDaemon tears the daemon down in dependency order: the reminder
// engine drains any in-flight evaluation first, then the HTTP server stops
// accepting requests, and only then does the store close.
func shutdownDaemon(ctx context.Context, log *zap.Logger, engine *reminder.Engine, server *api.Server, s *store.Store) {
	engine.Stop()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := s.Close(); err != nil {
		log.Error("database close error", zap.Error(err))
	}
}
