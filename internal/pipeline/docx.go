package pipeline

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// LoadDocx walks word/document.xml in body order, accumulating paragraph
// text and flushing the buffer whenever a table interrupts the flow.
// Tables come back as standalone Markdown documents; TOC-styled
// paragraphs are skipped.
func LoadDocx(path string) ([]Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("docx has no word/document.xml")
	}
	defer body.Close()

	textDocs, tableDocs, err := walkDocxBody(body, path)
	if err != nil {
		return nil, err
	}
	return append(textDocs, tableDocs...), nil
}

func walkDocxBody(r io.Reader, source string) (textDocs, tableDocs []Document, err error) {
	dec := xml.NewDecoder(r)

	var buffer []string
	flush := func() {
		var lines []string
		for _, l := range buffer {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		buffer = buffer[:0]
		txt := strings.TrimSpace(strings.Join(lines, "\n"))
		if txt == "" {
			return
		}
		textDocs = append(textDocs, Document{
			PageContent: txt,
			Metadata:    Metadata{Source: source, ContentType: ContentText},
		})
	}

	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "p" && depth <= 2:
				line, style, err := readDocxParagraph(dec)
				if err != nil {
					return nil, nil, err
				}
				if strings.Contains(strings.ToUpper(style), "TOC") {
					continue
				}
				if line = strings.TrimSpace(line); line != "" {
					buffer = append(buffer, line)
				}
			case t.Name.Local == "tbl" && depth <= 2:
				rows, err := readDocxTable(dec)
				if err != nil {
					return nil, nil, err
				}
				flush()
				if md := renderMarkdownTable(rows); md != "" {
					tableDocs = append(tableDocs, Document{
						PageContent: md,
						Metadata:    Metadata{Source: source, ContentType: ContentTable},
					})
				}
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	flush()

	return textDocs, tableDocs, nil
}

// readDocxParagraph consumes one w:p element, returning its concatenated
// run text and the paragraph style name (if any).
func readDocxParagraph(dec *xml.Decoder) (text, style string, err error) {
	var sb strings.Builder
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", "", fmt.Errorf("parse paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						style = attr.Value
					}
				}
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", "", fmt.Errorf("parse run text: %w", err)
				}
				depth--
				sb.WriteString(s)
			case "tab":
				sb.WriteString(" ")
			case "br":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			depth--
		}
	}

	return sb.String(), style, nil
}

// readDocxTable consumes one w:tbl element into a row/cell grid.
func readDocxTable(dec *xml.Decoder) ([][]string, error) {
	var rows [][]string
	var row []string
	var cell strings.Builder
	inCell := false
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse table: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tr":
				row = nil
			case "tc":
				inCell = true
				cell.Reset()
			case "t":
				if inCell {
					var s string
					if err := dec.DecodeElement(&s, &t); err != nil {
						return nil, fmt.Errorf("parse cell text: %w", err)
					}
					depth--
					cell.WriteString(s)
				} else {
					if err := dec.Skip(); err != nil {
						return nil, err
					}
					depth--
				}
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "tc":
				inCell = false
				row = append(row, cell.String())
			case "tr":
				rows = append(rows, row)
			}
		}
	}

	return rows, nil
}
