package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hakushi/internal/drawing"
	"hakushi/internal/upload"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func uploadCmd() *cobra.Command {
	var room, messageID string
	cmd := &cobra.Command{
		Use:   "upload <file.svg>",
		Short: "Upload an SVG and print the attachment once it is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := identity(ctx, cfg)
			if err != nil {
				return err
			}
			if room == "" {
				room = st.Room
			}
			if messageID == "" {
				messageID = uuid.NewString()
			}
			_, apiBase := effectiveServer(cfg, st)
			uploader, err := newUploader(cfg, apiBase)
			if err != nil {
				return err
			}

			att, err := uploader.Upload(ctx, upload.Request{
				Data:      data,
				Filename:  filepath.Base(args[0]),
				Room:      room,
				Author:    st.UserName,
				MessageID: messageID,
			})
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(struct {
				ID        string `json:"id"`
				Filename  string `json:"filename"`
				URL       string `json:"url"`
				Resolved  string `json:"resolved"`
				MessageID string `json:"messageId"`
			}{att.ID, att.Filename, att.URL, uploader.Resolve(att), messageID}, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room the attachment belongs to (default: last room)")
	cmd.Flags().StringVar(&messageID, "message-id", "", "message the attachment belongs to (default: new UUID)")
	return cmd
}

func drawCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "draw <strokes.json>",
		Short: "Export a stroke drawing to SVG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			d, err := drawing.LoadDrawing(data)
			if err != nil {
				return err
			}
			if output == "" {
				output = drawing.Filename(time.Now())
			}
			if output == "-" {
				fmt.Println(d.SVG())
				return nil
			}
			if err := os.WriteFile(output, []byte(d.SVG()), 0o644); err != nil {
				return err
			}
			logger.Info("drawing exported", "file", output, "strokes", len(d.Strokes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default: handwriting-<unix>.svg)")
	return cmd
}
