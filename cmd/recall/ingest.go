package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/recall/internal/models"
)

func ingestCMD(load loader) *cobra.Command {
	var user, title, category, text, url string
	var files []string

	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Add a note from text, files or a URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{text != "", len(files) > 0, url != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return fmt.Errorf("exactly one of --text, --file or --url is required")
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(files) > 1 {
				bar := getProgressBar(len(files), "📄 Ingesting files...")
				failed := 0
				for _, f := range files {
					path, _ := filepath.Abs(f)
					if _, err := a.Ingestor.IngestSource(ctx, user, "", category, models.Source{Kind: models.SourceFile, Path: path}); err != nil {
						color.Red("\n✗ %s: %v", f, err)
						failed++
					}
					bar.Add(1)
				}
				bar.Finish()
				color.Green("\n✓ Ingested %d of %d files", len(files)-failed, len(files))
				return nil
			}

			src := models.Source{Kind: models.SourceText, Text: text}
			switch {
			case len(files) == 1:
				path, _ := filepath.Abs(files[0])
				src = models.Source{Kind: models.SourceFile, Path: path}
			case url != "":
				src = models.Source{Kind: models.SourceURL, URL: url}
			}

			spinner := getSpinner("🔄 Embedding note...")
			note, err := a.Ingestor.IngestSource(ctx, user, title, category, src)
			spinner.Finish()
			if err != nil {
				return err
			}
			color.Green("✓ Stored note %q (%s)", note.Title, note.ID)
			return nil
		},
	}
	ingest.Flags().StringVar(&user, "user", "", "owner of the note")
	ingest.Flags().StringVar(&title, "title", "", "note title (derived from the content when empty)")
	ingest.Flags().StringVar(&category, "category", "", "note category")
	ingest.Flags().StringVar(&text, "text", "", "note text")
	ingest.Flags().StringSliceVar(&files, "file", nil, "file to ingest (.txt, .md, .pdf, .docx), repeatable")
	ingest.Flags().StringVar(&url, "url", "", "web page to ingest")
	_ = ingest.MarkFlagRequired("user")
	return ingest
}
