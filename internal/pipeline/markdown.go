package pipeline

import (
	"strconv"
	"strings"
)

// MarkdownSection is a run of content under one header path.
type MarkdownSection struct {
	Text    string
	Headers map[string]string // "Header 1".."Header 3" -> title
}

// SplitMarkdownByHeaders cuts text on H1/H2/H3 headers. Each section
// carries the titles of the headers currently in scope; header lines
// themselves are not part of the section body. Fenced code blocks are
// opaque: a # inside them never starts a section.
func SplitMarkdownByHeaders(text string) []MarkdownSection {
	var sections []MarkdownSection

	active := map[int]string{} // header level -> title
	var content []string
	inFence := false

	flush := func() {
		body := strings.TrimSpace(strings.Join(content, "\n"))
		content = content[:0]
		if body == "" {
			return
		}
		headers := make(map[string]string, len(active))
		for level, title := range active {
			headers["Header "+strconv.Itoa(level)] = title
		}
		sections = append(sections, MarkdownSection{Text: body, Headers: headers})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			content = append(content, line)
			continue
		}

		if level, title, ok := headerLine(trimmed); ok && !inFence {
			flush()
			// A new header closes every header at its level or deeper.
			for l := level; l <= 6; l++ {
				delete(active, l)
			}
			active[level] = title
			continue
		}

		content = append(content, line)
	}
	flush()

	return sections
}

func headerLine(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes > 3 || hashes == len(line) || line[hashes] != ' ' {
		return 0, "", false
	}
	return hashes, strings.TrimSpace(line[hashes+1:]), true
}
