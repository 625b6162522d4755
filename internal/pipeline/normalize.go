package pipeline

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	reWhitespace = regexp.MustCompile(`[ \t\x{00A0}]+`)
	reMultiNL    = regexp.MustCompile(`\n{3,}`)
	reDehyphen   = regexp.MustCompile(`([\p{L}\p{N}])-\n([\p{L}\p{N}])`)
)

// Normalizer cleans loaded documents and stamps shared metadata.
type Normalizer struct{}

// CleanText applies NFC, unifies newlines, joins end-of-line hyphenation,
// collapses whitespace runs and blank-line runs, and trims. The operation
// is idempotent.
func (n *Normalizer) CleanText(text string) string {
	if text == "" {
		return ""
	}

	s := norm.NFC.String(text)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = reDehyphen.ReplaceAllString(s, "$1$2")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Normalize cleans every document, drops the ones left empty, and enriches
// metadata with ingested_at, ext and file_name derived from the source.
func (n *Normalizer) Normalize(docs []Document) []Document {
	now := time.Now().UTC().Format(time.RFC3339)
	out := make([]Document, 0, len(docs))

	for _, d := range docs {
		content := n.CleanText(d.PageContent)
		if content == "" {
			continue
		}

		meta := d.Metadata
		meta.IngestedAt = now
		if meta.Source != "" {
			meta.FileName = filepath.Base(meta.Source)
			meta.Ext = strings.ToLower(filepath.Ext(meta.Source))
		}
		if meta.FileName == "" {
			meta.FileName = "unknown"
		}

		out = append(out, Document{PageContent: content, Metadata: meta})
	}

	return out
}
