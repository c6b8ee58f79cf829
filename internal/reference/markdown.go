package reference

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type section int

const (
	secNone section = iota
	secClassDiagram
	secSequenceDiagram
	secAPIEntries
	secSequenceLogic
	secExposed
	secExternal
)

var listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*)$`)

// DecodeMarkdown reads a design document laid out as:
//
//	---
//	service: books
//	title: Books design
//	---
//	## Class Diagram        (fenced block)
//	## Sequence Diagram     (fenced block)
//	## API Entries          (table: class | method | returns | parameters)
//	## Sequence Logic       (numbered list)
//	## Exposed APIs         (bullet list)
//	## External APIs        (bullet list)
//
// Unknown sections are ignored. A leading "# Title" is used when the
// frontmatter has no title.
func DecodeMarkdown(data []byte) (Content, error) {
	var c Content
	body := string(data)

	if strings.HasPrefix(body, "---\n") || strings.HasPrefix(body, "---\r\n") {
		fm, rest, err := splitFrontmatter(body)
		if err != nil {
			return Content{}, err
		}
		if err := yaml.Unmarshal([]byte(fm), &c); err != nil {
			return Content{}, fmt.Errorf("decode frontmatter: %w", err)
		}
		body = rest
	}

	var (
		cur      = secNone
		inFence  bool
		fenceBuf strings.Builder
		plainBuf strings.Builder
		seenRow  bool
	)

	flushDiagram := func() {
		text := strings.TrimSpace(fenceBuf.String())
		if text == "" {
			text = strings.TrimSpace(plainBuf.String())
		}
		switch cur {
		case secClassDiagram:
			if c.ClassDiagram == "" {
				c.ClassDiagram = text
			}
		case secSequenceDiagram:
			if c.SequenceDiagram == "" {
				c.SequenceDiagram = text
			}
		}
		fenceBuf.Reset()
		plainBuf.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			if cur == secClassDiagram || cur == secSequenceDiagram {
				fenceBuf.WriteString(line)
				fenceBuf.WriteByte('\n')
			}
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			heading := strings.TrimSpace(trimmed[level:])
			if level == 1 && c.Title == "" {
				c.Title = heading
			}
			flushDiagram()
			cur = classifyHeading(heading)
			seenRow = false
			continue
		}

		switch cur {
		case secClassDiagram, secSequenceDiagram:
			plainBuf.WriteString(line)
			plainBuf.WriteByte('\n')
		case secAPIEntries:
			if !strings.HasPrefix(trimmed, "|") {
				continue
			}
			cells := splitRow(trimmed)
			if isSeparatorRow(cells) {
				continue
			}
			if !seenRow {
				// header row
				seenRow = true
				continue
			}
			c.APIEntries = append(c.APIEntries, entryFromCells(cells))
		case secSequenceLogic:
			if item, ok := listItem(line); ok {
				c.SequenceSteps = append(c.SequenceSteps, item)
			}
		case secExposed:
			if item, ok := listItem(line); ok {
				c.ExposedAPIs = append(c.ExposedAPIs, item)
			}
		case secExternal:
			if item, ok := listItem(line); ok {
				c.ExternalAPIs = append(c.ExternalAPIs, item)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Content{}, fmt.Errorf("scan markdown: %w", err)
	}
	flushDiagram()
	return c, nil
}

func splitFrontmatter(s string) (string, string, error) {
	start := strings.Index(s, "\n") + 1
	rest := s[start:]
	if strings.HasPrefix(rest, "---") {
		return "", strings.TrimPrefix(strings.TrimPrefix(rest[3:], "\r"), "\n"), nil
	}
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	fm := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")
	return fm, body, nil
}

func classifyHeading(h string) section {
	h = strings.ToLower(h)
	switch {
	case strings.Contains(h, "class diagram"):
		return secClassDiagram
	case strings.Contains(h, "sequence diagram"):
		return secSequenceDiagram
	case strings.Contains(h, "api entries"), strings.Contains(h, "api list"), strings.Contains(h, "documented api"):
		return secAPIEntries
	case strings.Contains(h, "sequence logic"), strings.Contains(h, "sequence steps"):
		return secSequenceLogic
	case strings.Contains(h, "exposed"):
		return secExposed
	case strings.Contains(h, "external"):
		return secExternal
	}
	return secNone
}

func splitRow(row string) []string {
	row = strings.TrimPrefix(strings.TrimSpace(row), "|")
	row = strings.TrimSuffix(row, "|")
	cells := strings.Split(row, "|")
	for i := range cells {
		cells[i] = strings.Trim(strings.TrimSpace(cells[i]), "`")
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func entryFromCells(cells []string) APIEntry {
	get := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	return APIEntry{
		ClassName:  get(0),
		MethodName: get(1),
		ReturnType: get(2),
		Parameters: get(3),
	}
}

func listItem(line string) (string, bool) {
	m := listItemRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	item := strings.TrimSpace(strings.ReplaceAll(m[1], "`", ""))
	return item, item != ""
}
