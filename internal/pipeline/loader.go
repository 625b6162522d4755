package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Client-fault loading errors, surfaced as 4xx upstream.
var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrFileTooLarge         = errors.New("file exceeds maximum size")
)

// ErrNoPDFBackend is a deployment fault: the process accepted a PDF but
// was built without a parser to read it.
var ErrNoPDFBackend = errors.New("no pdf backend configured")

// Loader dispatches files to format-specific loaders by lowercased
// extension and enriches every loaded document with the file's SHA-256.
type Loader struct {
	MaxFileBytes int64

	// OpenPDF supplies the raw PDF parser; the geometry and table logic
	// lives in PDFExtractor. Loading a PDF with OpenPDF nil fails hard
	// rather than indexing nothing.
	OpenPDF func(path string) (PageSource, error)

	pdf    *PDFExtractor
	logger *zap.Logger
}

// NewLoader builds a loader with the given size cap and PDF table settings.
func NewLoader(maxFileBytes int64, extractTables bool, tableMinAccuracy float64, logger *zap.Logger) *Loader {
	return &Loader{
		MaxFileBytes: maxFileBytes,
		pdf:          NewPDFExtractor(extractTables, tableMinAccuracy, logger),
		logger:       logger,
	}
}

// Supported reports whether ext (with leading dot) has a loader.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".pptx", ".txt", ".md":
		return true
	}
	return false
}

// Load reads one file into documents. Unsupported extensions, oversized
// files and a missing PDF backend are rejected; parser failures inside a
// supported format are logged and yield an empty list so a batch can
// continue.
func (l *Loader) Load(path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if l.MaxFileBytes > 0 && info.Size() > l.MaxFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, filepath.Base(path), info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, ext)
	}
	// Missing backend is a deployment problem, not a bad file: it must
	// fail the whole job instead of being skipped like a parse error.
	if ext == ".pdf" && l.OpenPDF == nil {
		return nil, fmt.Errorf("%w: cannot load %s", ErrNoPDFBackend, filepath.Base(path))
	}

	docs, err := l.loadByExt(ext, path)
	if err != nil {
		// Parser trouble loses one file, never the batch.
		l.logger.Warn("loader failed, skipping file",
			zap.String("file", filepath.Base(path)),
			zap.Error(err))
		return nil, nil
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Metadata.Source == "" {
			docs[i].Metadata.Source = path
		}
		docs[i].Metadata.FileSHA256 = sum
	}

	return docs, nil
}

func (l *Loader) loadByExt(ext, path string) ([]Document, error) {
	switch ext {
	case ".pdf":
		src, err := l.OpenPDF(path)
		if err != nil {
			return nil, err
		}
		return l.pdf.Load(src, path)
	case ".docx":
		return LoadDocx(path)
	case ".pptx":
		return LoadPptx(path)
	case ".txt", ".md":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []Document{{
			PageContent: string(raw),
			Metadata:    Metadata{Source: path, ContentType: ContentText},
		}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, ext)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
