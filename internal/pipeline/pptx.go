package pipeline

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reSlideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// LoadPptx extracts the text of every slide, in slide order, and emits one
// document for the whole file. Slides are separated by blank lines.
func LoadPptx(path string) ([]Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := reSlideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var parts []string
	for _, s := range slides {
		r, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("open slide %d: %w", s.num, err)
		}
		text, err := slideText(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("parse slide %d: %w", s.num, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	content := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if content == "" {
		return nil, nil
	}

	return []Document{{
		PageContent: content,
		Metadata:    Metadata{Source: path, ContentType: ContentText},
	}}, nil
}

// slideText concatenates every a:t text run in a slide, one paragraph of
// runs per line.
func slideText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var lines []string
	var line strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", err
				}
				line.WriteString(s)
			}
		case xml.EndElement:
			// a:p closes one visual paragraph on the slide
			if t.Name.Local == "p" && line.Len() > 0 {
				lines = append(lines, line.String())
				line.Reset()
			}
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
