package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hakushi/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the settings database and config file",
		Long: `Creates a compressed .tar.gz archive containing the settings database
and configuration file. The backup is timestamped by default.`,
	}
	cmd.AddCommand(backupCreateCmd(), backupRestoreCmd())
	return cmd
}

// Archive entry names. Restore maps them back onto the configured paths, so
// a backup taken with one --config can be restored under another.
const (
	entryDB     = "settings.db"
	entryConfig = "config"
)

type archiveEntry struct {
	name string
	path string
}

// backupEntries lists the files that exist for the given paths.
func backupEntries(dbPath, cfgPath string) []archiveEntry {
	var entries []archiveEntry
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			entries = append(entries, archiveEntry{entryDB + suffix, dbPath + suffix})
		}
	}
	if _, err := os.Stat(cfgPath); err == nil {
		entries = append(entries, archiveEntry{entryConfig + filepath.Ext(cfgPath), cfgPath})
	}
	return entries
}

// restoreTarget maps an archive entry name onto the local path it restores to.
func restoreTarget(name, dbPath, cfgPath string) (string, bool) {
	switch {
	case name == entryDB, name == entryDB+"-wal", name == entryDB+"-shm":
		return dbPath + strings.TrimPrefix(name, entryDB), true
	case strings.HasPrefix(name, entryConfig+"."):
		if filepath.Ext(name) != filepath.Ext(cfgPath) {
			return "", false
		}
		return cfgPath, true
	}
	return "", false
}

func backupCreateCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			dbPath, err := resolveDBPath()
			if err != nil {
				return err
			}
			entries := backupEntries(dbPath, cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", dbPath, cfgPath)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, "hakushi-"+time.Now().Format("20060102-150405")+".tar.gz")
			}
			if err := writeArchive(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, e := range entries {
				fmt.Printf("  - %s <- %s\n", e.name, e.path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.hakushi/backups/hakushi-<timestamp>.tar.gz)")
	return cmd
}

func backupRestoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the settings database and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			dbPath, err := resolveDBPath()
			if err != nil {
				return err
			}
			if !force && len(backupEntries(dbPath, cfgPath)) > 0 {
				return fmt.Errorf("refusing to overwrite %s and %s (use --force)", dbPath, cfgPath)
			}

			restored, err := readArchive(args[0], func(name string) (string, bool) {
				return restoreTarget(name, dbPath, cfgPath)
			})
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

func resolveDBPath() (string, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return "", err
	}
	return cfg.Settings.DBPath, nil
}

func writeArchive(outputPath string, entries []archiveEntry) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeEntry(tw *tar.Writer, e archiveEntry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = e.name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// readArchive extracts the entries that target resolves and skips the rest.
func readArchive(archivePath string, target func(name string) (string, bool)) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return nil, err
		}
		path, ok := target(hdr.Name)
		if !ok {
			continue
		}
		if err := extractEntry(tr, path); err != nil {
			return nil, err
		}
		restored = append(restored, path)
	}
}

func extractEntry(r io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}
