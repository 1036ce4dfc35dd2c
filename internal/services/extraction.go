package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

// TextExtractor converts a stored document into plain text. Rich format
// support (PDF, DOCX) lives outside the engine; any implementation of this
// interface can be plugged in.
type TextExtractor interface {
	Extract(ctx context.Context, path string, mimeType string) (string, error)
}

// ExtractionError marks a document as unreadable. It is fatal to that
// document's ingestion and is never retried automatically.
type ExtractionError struct {
	Path  string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

type plainTextExtractor struct {
	log *logger.Logger
}

// NewPlainTextExtractor reads UTF-8 text files (txt, md, csv and friends).
func NewPlainTextExtractor(log *logger.Logger) TextExtractor {
	return &plainTextExtractor{log: log.With("service", "PlainTextExtractor")}
}

func (e *plainTextExtractor) Extract(ctx context.Context, path string, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(path))

	textual := strings.HasPrefix(mt, "text/") ||
		mt == "application/json" ||
		ext == ".txt" || ext == ".md" || ext == ".markdown" || ext == ".csv" || ext == ".json"
	if !textual {
		return "", &ExtractionError{Path: path, Cause: fmt.Errorf("%w: mime=%s ext=%s", errs.ErrUnsupportedFormat, mimeType, ext)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Cause: err}
	}
	if len(data) == 0 {
		return "", &ExtractionError{Path: path, Cause: fmt.Errorf("empty file")}
	}
	if !utf8.Valid(data) {
		return "", &ExtractionError{Path: path, Cause: fmt.Errorf("%w: not valid utf-8", errs.ErrUnsupportedFormat)}
	}
	return string(data), nil
}
