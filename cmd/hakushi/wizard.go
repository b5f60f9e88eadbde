package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"hakushi/internal/config"
	"hakushi/internal/session"
	"hakushi/internal/settings"
	"hakushi/internal/transport"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: server → transport → display name → save",
		Long:  "Guides you through the server URLs, WebSocket driver and display name. Writes the config to the path used by --config or default, and the name to the settings database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd, os.Stdin, os.Stdout)
		},
	}
}

func runWizard(cmd *cobra.Command, in io.Reader, out io.Writer) error {
	cfgPath := config.ExpandPath(resolveConfigPath())
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Server
	fmt.Fprintln(out, "\n--- Step 1: Server ---")
	fmt.Fprint(out, "WebSocket base URL")
	wsBase, err := prompt(cfg.Server.WSBase)
	if err != nil {
		return err
	}
	fmt.Fprint(out, "API base URL")
	apiBase, err := prompt(cfg.Server.APIBase)
	if err != nil {
		return err
	}
	cfg.Server.WSBase, cfg.Server.APIBase = wsBase, apiBase
	if _, err := session.BuildURL(wsBase, "lobby"); err != nil {
		return err
	}

	// Step 2: Transport
	fmt.Fprintln(out, "\n--- Step 2: WebSocket driver ---")
	fmt.Fprintf(out, "  1) %s\n  2) %s\n", transport.DriverGorilla, transport.DriverGobwas)
	fmt.Fprint(out, "Choose driver (1–2)")
	def := "1"
	if cfg.Server.Transport == transport.DriverGobwas {
		def = "2"
	}
	choice, err := prompt(def)
	if err != nil {
		return err
	}
	if choice == "2" {
		cfg.Server.Transport = transport.DriverGobwas
	} else {
		cfg.Server.Transport = transport.DriverGorilla
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	// Step 3: Display name
	store, err := settings.Open(cfg.Settings.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	st, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\n--- Step 3: Display name ---")
	fmt.Fprint(out, "Name shown to others")
	name, err := prompt(st.UserName)
	if err != nil {
		return err
	}
	if name != st.UserName {
		if err := store.SetUserName(cmd.Context(), name); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintf(out, "Next: run 'hakushi chat' to join room %s.\n", st.Room)
	return nil
}
