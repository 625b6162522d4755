package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Word is a positioned token on a PDF page. Coordinates are points with
// the origin at the top-left, y increasing downward.
type Word struct {
	Text           string
	X0, Y0, X1, Y1 float64
}

// Box is an axis-aligned bounding box in page coordinates.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// PageTable is a table detected on a page, with the parser's confidence in
// percent and the cell grid.
type PageTable struct {
	Box      Box
	Accuracy float64
	Cells    [][]string
}

// PageSource abstracts the raw PDF parser. Page numbers are 1-based.
// Implementations are external to the core; tests use a synthetic source.
type PageSource interface {
	NumPages() int
	PageWords(page int) ([]Word, error)
	PageTables(page int) ([]PageTable, error)
}

// tableMargin is the exclusion margin (points) around a table box when
// deciding whether a word belongs to the table.
const tableMargin = 2.0

// PDFExtractor loads per-page text documents and, when table extraction
// is enabled, standalone Markdown table documents. Words falling inside a
// confident table box are excluded from the page text.
type PDFExtractor struct {
	ExtractTables bool
	MinAccuracy   float64 // tables below this confidence are dropped
	logger        *zap.Logger
}

// NewPDFExtractor builds an extractor with the given table settings.
func NewPDFExtractor(extractTables bool, minAccuracy float64, logger *zap.Logger) *PDFExtractor {
	return &PDFExtractor{ExtractTables: extractTables, MinAccuracy: minAccuracy, logger: logger}
}

// Load produces one text document per page plus one document per kept
// table. source is the path recorded in metadata.
func (e *PDFExtractor) Load(src PageSource, source string) ([]Document, error) {
	var docs []Document

	for page := 1; page <= src.NumPages(); page++ {
		var boxes []Box
		var tables []PageTable

		if e.ExtractTables {
			found, err := src.PageTables(page)
			if err != nil {
				return nil, fmt.Errorf("tables page %d: %w", page, err)
			}
			for _, t := range found {
				if t.Accuracy < e.MinAccuracy {
					e.logger.Warn("table below accuracy threshold, dropped",
						zap.Int("page", page),
						zap.Float64("accuracy", t.Accuracy))
					continue
				}
				boxes = append(boxes, t.Box)
				tables = append(tables, t)
			}
		}

		words, err := src.PageWords(page)
		if err != nil {
			return nil, fmt.Errorf("words page %d: %w", page, err)
		}

		text := assembleLines(filterWords(words, boxes))
		if text != "" {
			docs = append(docs, Document{
				PageContent: text,
				Metadata: Metadata{
					Source:      source,
					Page:        page,
					ContentType: ContentText,
				},
			})
		}

		for _, t := range tables {
			md := renderMarkdownTable(t.Cells)
			if md == "" {
				continue
			}
			meta := Metadata{
				Source:      source,
				Page:        page,
				ContentType: ContentTable,
			}
			meta.SetExtension("table_accuracy", math.Round(t.Accuracy*100)/100)
			meta.SetExtension("table_rows", len(t.Cells))
			docs = append(docs, Document{PageContent: md, Metadata: meta})
		}
	}

	return docs, nil
}

// filterWords keeps the words whose boxes do not overlap any table box,
// with a margin and an axis-wise non-overlap test.
func filterWords(words []Word, boxes []Box) []Word {
	if len(boxes) == 0 {
		return words
	}
	kept := make([]Word, 0, len(words))
	for _, w := range words {
		overlaps := false
		for _, b := range boxes {
			if w.X1 > b.X0-tableMargin && w.X0 < b.X1+tableMargin &&
				w.Y1 > b.Y0-tableMargin && w.Y0 < b.Y1+tableMargin {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, w)
		}
	}
	return kept
}

// assembleLines groups words into lines by rounded y, orders each line by
// x, and joins words on single spaces.
func assembleLines(words []Word) string {
	if len(words) == 0 {
		return ""
	}

	byLine := map[int][]Word{}
	for _, w := range words {
		y := int(math.Round(w.Y0))
		byLine[y] = append(byLine[y], w)
	}

	ys := make([]int, 0, len(byLine))
	for y := range byLine {
		ys = append(ys, y)
	}
	sort.Ints(ys)

	var lines []string
	for _, y := range ys {
		line := byLine[y]
		sort.Slice(line, func(i, j int) bool { return line[i].X0 < line[j].X0 })
		parts := make([]string, len(line))
		for i, w := range line {
			parts[i] = w.Text
		}
		lines = append(lines, joinNonEmpty(parts, " "))
	}

	return joinNonEmpty(lines, "\n")
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
