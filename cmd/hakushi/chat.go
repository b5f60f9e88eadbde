package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hakushi/internal/cli"
	"hakushi/internal/config"
	"hakushi/internal/domain"
	"hakushi/internal/metrics"
	"hakushi/internal/session"
	"hakushi/internal/settings"
	"hakushi/internal/transport"
	"hakushi/internal/upload"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var room, name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(room, name)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room to join (default: last room)")
	cmd.Flags().StringVar(&name, "name", "", "display name (saved for later runs)")
	return cmd
}

func runChat(room, name string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.Open(cfg.Settings.DBPath, logger)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}
	defer store.Close()

	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if st, err = applyChatFlags(ctx, store, st, room, name); err != nil {
		return err
	}
	wsBase, apiBase := effectiveServer(cfg, st)

	dialer, err := transport.New(cfg.Server.Transport, transport.Options{
		HandshakeTimeout: cfg.Server.DialTimeout(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	uploader, err := newUploader(cfg, apiBase)
	if err != nil {
		return err
	}

	ctrl, err := session.New(session.Config{
		WSBase:   wsBase,
		Room:     st.Room,
		UserName: st.UserName,
		Dialer:   dialer,
		Settings: store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	repl := cli.NewREPL(cli.REPLConfig{
		Session:  ctrl,
		Uploader: uploader,
		Renderer: cli.NewRenderer(uploader.Resolve),
		Logger:   logger,
	})
	return repl.Run(ctx)
}

func newUploader(cfg *config.Config, apiBase string) (*upload.Uploader, error) {
	client := upload.SharedHTTPClient(cfg.Upload.RequestTimeout())
	return upload.New(upload.Config{
		APIBase:      apiBase,
		HTTPClient:   client,
		Checker:      upload.HeadChecker{Client: client},
		MaxAttempts:  cfg.Upload.MaxAttempts,
		InitialDelay: cfg.Upload.InitialDelay(),
		Logger:       logger,
	})
}

func startMetricsServer(mc config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(mc.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("metrics enabled", "addr", mc.Addr, "endpoint", mc.Endpoint)
	return srv
}

// identity reads the persisted settings used by the one-shot commands.
func identity(ctx context.Context, cfg *config.Config) (domain.Settings, error) {
	store, err := settings.Open(cfg.Settings.DBPath, logger)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings store: %w", err)
	}
	defer store.Close()
	return store.Load(ctx)
}

// applyChatFlags overlays --room and --name on the loaded settings and
// persists them. An invalid room is kept for the session to report but
// never saved as the last-used room.
func applyChatFlags(ctx context.Context, store domain.SettingsStore, st domain.Settings, room, name string) (domain.Settings, error) {
	if name = strings.TrimSpace(name); name != "" {
		if err := store.SetUserName(ctx, name); err != nil {
			return st, err
		}
		st.UserName = name
	}
	if room = strings.TrimSpace(room); room != "" {
		st.Room = room
		if session.ValidateRoom(room) == nil {
			if err := store.SetRoom(ctx, room); err != nil {
				return st, fmt.Errorf("persist room: %w", err)
			}
		}
	}
	return st, nil
}
