// Package extract turns raw note sources into cleaned text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/scraper"
)

// Fetcher downloads readable page text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (scraper.Page, error)
}

type Extractor struct {
	fetcher Fetcher
	logger  *log.Logger
}

func New(fetcher Fetcher, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &Extractor{fetcher: fetcher, logger: logger}
}

// Supported reports whether a file name has an extension Extract can read.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".markdown", ".pdf", ".docx":
		return true
	}
	return false
}

func (e *Extractor) Extract(ctx context.Context, src models.Source) models.Extraction {
	switch src.Kind {
	case models.SourceText:
		return models.ExtractedText(processor.Clean(src.Text), "")
	case models.SourceFile:
		return e.extractFile(src)
	case models.SourceURL:
		if e.fetcher == nil {
			return models.ExtractionFailed(fmt.Errorf("url extraction is not configured"))
		}
		page, err := e.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			e.logger.Printf("failed to fetch %s: %v", src.URL, err)
			return models.ExtractionFailed(err)
		}
		return models.ExtractedText(processor.Clean(page.Text), page.Title)
	default:
		return models.ExtractionFailed(fmt.Errorf("unknown source kind %q", src.Kind))
	}
}

func (e *Extractor) extractFile(src models.Source) models.Extraction {
	name := src.Filename
	if name == "" {
		name = src.Path
	}
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	data := src.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(src.Path)
		if err != nil {
			return models.ExtractionFailed(fmt.Errorf("failed to read %s: %w", src.Path, err))
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".markdown":
		return models.ExtractedText(processor.Clean(string(data)), title)
	case ".pdf":
		text, err := pdfText(data)
		if err != nil {
			e.logger.Printf("failed to read pdf %s: %v", name, err)
			return models.ExtractionFailed(err)
		}
		return models.ExtractedText(processor.Clean(text), title)
	case ".docx":
		text, err := docxText(data)
		if err != nil {
			e.logger.Printf("failed to read docx %s: %v", name, err)
			return models.ExtractionFailed(err)
		}
		return models.ExtractedText(processor.Clean(text), title)
	default:
		return models.ExtractionFailed(fmt.Errorf("unsupported file type %q", filepath.Ext(name)))
	}
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
