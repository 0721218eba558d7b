package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/muk365/whiteboard/internal/api"
	"github.com/muk365/whiteboard/internal/config"
	"github.com/muk365/whiteboard/internal/db"
	"github.com/muk365/whiteboard/internal/discovery"
	"github.com/muk365/whiteboard/internal/retention"
	"github.com/muk365/whiteboard/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper, load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the whiteboard relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cfg.Log.NewLogger(cmd.ErrOrStderr()))
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Interface to listen on")
	flags.Int("port", 8080, "Port to listen on")
	flags.String("static-dir", "", "Directory holding index.html and static/ (empty serves no frontend)")
	flags.String("db", "./data/whiteboard.db", "Session journal path (empty disables the journal)")
	flags.Bool("mdns", false, "Advertise the relay on the local network")
	bindFlags(v, flags, map[string]string{
		"host":       config.KeyServerHost,
		"port":       config.KeyServerPort,
		"static-dir": config.KeyStaticDir,
		"db":         config.KeyDBPath,
		"mdns":       config.KeyMDNSEnabled,
	})

	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var database *db.Database
	opts := ws.Options{
		SendBuffer:    cfg.Session.SendBuffer,
		Rate:          cfg.Session.Rate,
		Burst:         cfg.Session.Burst,
		MaxViolations: cfg.Session.MaxViolations,
		Logger:        logger,
	}

	if cfg.DBPath != "" {
		var err error
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer database.Close()

		if n, err := database.CloseOpenSessions(ctx, time.Now()); err != nil {
			logger.Warn("close stale sessions", "error", err)
		} else if n > 0 {
			logger.Info("closed sessions left open by a previous run", "count", n)
		}
		opts.Journal = database

		svc := retention.New(database, retention.Config{
			Interval: cfg.Retention.Interval,
			MaxAge:   cfg.Retention.MaxAge,
		}, logger)
		svc.Start()
		defer svc.Stop()
	}

	hub := ws.NewHub(opts)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newRouter(hub, api.New(hub, database, logger), cfg.Server.StaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MDNS.Enabled {
		adv, err := discovery.Advertise(cfg.MDNS.Instance, cfg.Server.Port)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Close()
			logger.Info("📡 advertising on the local network", "service", discovery.ServiceType)
		}
	}

	logger.Info("🎨 whiteboard server starting", "addr", server.Addr)
	if database != nil {
		logger.Info("📁 session journal", "path", cfg.DBPath)
	}
	if cfg.Server.StaticDir != "" {
		logger.Info("🖼️ serving frontend", "dir", cfg.Server.StaticDir)
	}
	logger.Info("endpoints",
		"websocket", "/ws/{room}/{display_name}",
		"health", "GET /health",
		"stats", "GET /api/stats",
		"rooms", "GET /api/rooms, /api/rooms/{id}, /api/rooms/{id}/sessions")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}
	return nil
}
