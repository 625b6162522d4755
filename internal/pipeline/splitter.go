package pipeline

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultSeparators is the ladder tried by the recursive splitter, from the
// strongest boundary down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter splits text on a separator ladder, recursing to weaker
// separators for fragments that still exceed the target size, then merges
// adjacent fragments back up to the target with overlap.
type RecursiveSplitter struct {
	ChunkChars   int
	ChunkOverlap int
	Separators   []string
}

// SplitText returns fragments of at most ChunkChars characters (runes),
// overlapping by up to ChunkOverlap.
func (r *RecursiveSplitter) SplitText(text string) []string {
	seps := r.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return r.split(text, seps)
}

func (r *RecursiveSplitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var next []string
	for i, s := range seps {
		if s == "" {
			sep = s
			next = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			next = seps[i+1:]
			break
		}
	}

	var splits []string
	for _, part := range strings.Split(text, sep) {
		if part != "" {
			splits = append(splits, part)
		}
	}

	var final []string
	var good []string
	for _, part := range splits {
		if runeLen(part) < r.ChunkChars {
			good = append(good, part)
			continue
		}
		if len(good) > 0 {
			final = append(final, r.merge(good, sep)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, part)
		} else {
			final = append(final, r.split(part, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, r.merge(good, sep)...)
	}
	return final
}

// merge joins fragments up to the chunk size, retaining a tail of up to
// ChunkOverlap characters between consecutive chunks.
func (r *RecursiveSplitter) merge(splits []string, sep string) []string {
	sepLen := runeLen(sep)

	var docs []string
	var current []string
	total := 0

	for _, part := range splits {
		l := runeLen(part)
		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}
		if total+l+extra > r.ChunkChars && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for total > r.ChunkOverlap ||
				(total+l+extraFor(current, sepLen) > r.ChunkChars && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, part)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}

	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func extraFor(current []string, sepLen int) int {
	if len(current) > 0 {
		return sepLen
	}
	return 0
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Splitter turns normalized documents into chunks, dispatching on content
// type and extension.
type Splitter struct {
	ChunkChars    int
	ChunkOverlap  int
	MinChunkChars int

	rec *RecursiveSplitter
}

// NewSplitter builds a Splitter with the given size targets.
func NewSplitter(chunkChars, chunkOverlap, minChunkChars int) *Splitter {
	return &Splitter{
		ChunkChars:    chunkChars,
		ChunkOverlap:  chunkOverlap,
		MinChunkChars: minChunkChars,
		rec: &RecursiveSplitter{
			ChunkChars:   chunkChars,
			ChunkOverlap: chunkOverlap,
			Separators:   DefaultSeparators,
		},
	}
}

// Split chunks every document. Tables and PPTX slides pass through whole;
// Markdown goes through header-aware splitting; everything else through
// the recursive splitter. Chunks shorter than MinChunkChars are dropped.
func (s *Splitter) Split(docs []Document) []Document {
	var out []Document

	for _, d := range docs {
		ext := strings.ToLower(d.Metadata.Ext)

		// Tables are already a coherent unit, never re-split.
		if d.Metadata.ContentType == ContentTable {
			if runeLen(d.PageContent) >= s.MinChunkChars {
				out = append(out, s.emit(d.PageContent, d.Metadata, "0", "table-v1"))
			}
			continue
		}

		if ext == ".pptx" {
			if runeLen(d.PageContent) >= s.MinChunkChars {
				out = append(out, s.emit(d.PageContent, d.Metadata, "0", "pptx-v1"))
			}
			continue
		}

		if ext == ".md" {
			out = append(out, s.splitMarkdown(d)...)
			continue
		}

		for i, text := range s.rec.SplitText(d.PageContent) {
			if runeLen(text) < s.MinChunkChars {
				continue
			}
			out = append(out, s.emit(text, d.Metadata, strconv.Itoa(i), "char-v1"))
		}
	}

	return out
}

// splitMarkdown splits by H1..H3 headers first. Short sections are
// dropped, oversized ones re-split by the generic splitter with a
// composite "{section}-{sub}" index.
func (s *Splitter) splitMarkdown(d Document) []Document {
	var out []Document

	for i, sec := range SplitMarkdownByHeaders(d.PageContent) {
		text := sec.Text
		if runeLen(text) < s.MinChunkChars {
			continue
		}

		meta := d.Metadata
		if len(sec.Headers) > 0 {
			// Copy-on-write so sibling sections don't share one map.
			ext := make(map[string]any, len(meta.Extensions)+len(sec.Headers))
			for k, v := range meta.Extensions {
				ext[k] = v
			}
			for k, v := range sec.Headers {
				ext[k] = v
			}
			meta.Extensions = ext
		}

		if runeLen(text) <= s.ChunkChars {
			out = append(out, s.emit(text, meta, strconv.Itoa(i), "md-header-v1"))
			continue
		}

		for j, sub := range s.rec.SplitText(text) {
			if runeLen(sub) < s.MinChunkChars {
				continue
			}
			idx := strconv.Itoa(i) + "-" + strconv.Itoa(j)
			out = append(out, s.emit(sub, meta, idx, "md-header-v1"))
		}
	}

	return out
}

func (s *Splitter) emit(text string, meta Metadata, index, tag string) Document {
	meta.ChunkID = uuid.NewString()
	meta.ChunkIndex = index
	meta.SplitterTag = tag
	meta.ChunkChars = runeLen(text)
	return Document{PageContent: text, Metadata: meta}
}
