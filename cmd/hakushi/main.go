package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hakushi/internal/config"
	"hakushi/internal/domain"
	"hakushi/internal/settings"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "hakushi",
		Short: "hakushi: real-time room chat client",
		Long:  "hakushi joins a chat room over WebSocket, shows its history and live messages, and uploads SVG attachments.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.hakushi/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(drawCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(wizardCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config (or defaults when missing) and rebuilds the
// package logger from the general section. The returned closer releases
// the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	closer, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func setupLogger(g config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closer := func() {}
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

// effectiveServer applies persisted server overrides on top of the config.
func effectiveServer(cfg *config.Config, st domain.Settings) (wsBase, apiBase string) {
	wsBase, apiBase = cfg.Server.WSBase, cfg.Server.APIBase
	if st.WSBase != "" {
		wsBase = st.WSBase
	}
	if st.APIBase != "" {
		apiBase = st.APIBase
	}
	return wsBase, apiBase
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config and create the settings database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfgPath)), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				logger.Info("config exists, keeping it", "path", cfgPath)
				if loaded, err := config.Load(cfgPath); err == nil {
					cfg = loaded
				}
			} else if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			store, err := settings.Open(config.ExpandPath(cfg.Settings.DBPath), logger)
			if err != nil {
				return err
			}
			defer store.Close()
			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "settings", cfg.Settings.DBPath, "user_id", st.UserID, "room", st.Room)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and persisted settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			cfgPath := resolveConfigPath()
			_, statErr := os.Stat(config.ExpandPath(cfgPath))
			fmt.Printf("config:    %s (loaded: %v)\n", cfgPath, statErr == nil)

			store, err := settings.Open(cfg.Settings.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			st, err := store.Load(ctx)
			if err != nil {
				return err
			}
			wsBase, apiBase := effectiveServer(cfg, st)
			fmt.Printf("user:      %s (%s)\n", st.UserName, st.UserID)
			fmt.Printf("room:      %s\n", st.Room)
			fmt.Printf("websocket: %s\n", wsBase)
			fmt.Printf("api:       %s\n", apiBase)
			fmt.Printf("transport: %s\n", cfg.Server.Transport)

			rooms, err := store.RecentRooms(ctx, 5)
			if err != nil {
				return err
			}
			if len(rooms) > 0 {
				fmt.Printf("recent:    %s\n", strings.Join(rooms, ", "))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.wsBase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.transport gobwas)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(cfg)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-server <wsBase> <apiBase>",
		Short: "Override the server URLs in the settings database (empty strings clear)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			candidate := *cfg
			if args[0] != "" {
				candidate.Server.WSBase = args[0]
			}
			if args[1] != "" {
				candidate.Server.APIBase = args[1]
			}
			if err := config.Validate(&candidate); err != nil {
				return err
			}

			store, err := settings.Open(cfg.Settings.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.SetServer(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			logger.Info("server override saved", "ws_base", args[0], "api_base", args[1])
			return nil
		},
	})

	return cmd
}
