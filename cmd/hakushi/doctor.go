package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"hakushi/internal/config"
	"hakushi/internal/domain"
	"hakushi/internal/session"
	"hakushi/internal/settings"
	"hakushi/internal/transport"
	"hakushi/internal/upload"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hakushi setup",
		Long: `Verifies that the configuration, settings database, API server and
WebSocket endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("hakushi doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			var cfg *config.Config
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
				cfg = config.Defaults()
				cfg.Settings.DBPath = config.ExpandPath(cfg.Settings.DBPath)
			} else {
				printPass("Config file", cfgPath)
				passed++
				loaded, err := config.Load(cfgPath)
				if err != nil {
					printFail("Config validation", err.Error())
					failed++
					fmt.Printf("\nFix the config or run 'hakushi init' to write a default one.\n")
					return fmt.Errorf("invalid config")
				}
				printPass("Config validation", "valid")
				passed++
				cfg = loaded
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// 2. Settings database
			st, err := checkSettings(ctx, cfg.Settings.DBPath)
			if err != nil {
				printFail("Settings database", err.Error())
				failed++
			} else {
				printPass("Settings database", cfg.Settings.DBPath)
				passed++
			}
			wsBase, apiBase := effectiveServer(cfg, st)
			room := st.Room
			if room == "" {
				room = settings.NewRoomID()
			}

			// 3. API server
			if err := checkAPI(ctx, cfg, apiBase); err != nil {
				printFail("API server", err.Error())
				failed++
			} else {
				printPass("API server", apiBase)
				passed++
			}

			// 4. WebSocket endpoint
			addr, err := checkWebSocket(ctx, cfg, wsBase, room)
			if err != nil {
				printFail("WebSocket", err.Error())
				failed++
			} else {
				printPass("WebSocket", addr)
				passed++
			}

			// 5. Log file
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before chatting.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nhakushi should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'hakushi chat' to join your room.\n")
			}
			return nil
		},
	}
}

// checkSettings opens the store (running migrations) and loads the persisted settings.
func checkSettings(ctx context.Context, dbPath string) (domain.Settings, error) {
	store, err := settings.Open(dbPath, logger)
	if err != nil {
		return domain.Settings{}, err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return domain.Settings{}, fmt.Errorf("cannot ping: %w", err)
	}
	return store.Load(ctx)
}

// checkAPI sends a HEAD to the API base. Any response below 500 means the
// server is up.
func checkAPI(ctx context.Context, cfg *config.Config, apiBase string) error {
	client := upload.SharedHTTPClient(cfg.Upload.RequestTimeout())
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, apiBase, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func checkWebSocket(ctx context.Context, cfg *config.Config, wsBase, room string) (string, error) {
	addr, err := session.BuildURL(wsBase, room)
	if err != nil {
		return "", err
	}
	dialer, err := transport.New(cfg.Server.Transport, transport.Options{
		HandshakeTimeout: cfg.Server.DialTimeout(),
		Logger:           logger,
	})
	if err != nil {
		return "", err
	}
	conn, err := dialer.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	conn.Close()
	return addr, nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
