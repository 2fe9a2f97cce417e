package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/dgallion1/docask/internal/doctree"
)

var (
	// "1 Introduction", "2.3. Results", "IV. DISCUSSION"
	numberedLineRe = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVX]+\.)\s+\p{Lu}`)

	knownHeadings = map[string]bool{
		"abstract":              true,
		"introduction":          true,
		"background":            true,
		"related work":          true,
		"method":                true,
		"methods":               true,
		"materials and methods": true,
		"results":               true,
		"discussion":            true,
		"conclusion":            true,
		"conclusions":           true,
		"acknowledgments":       true,
		"acknowledgements":      true,
		"references":            true,
		"bibliography":          true,
		"appendix":              true,
	}
)

// maxHeadingWords bounds how long a line can be and still be taken for a
// heading.
const maxHeadingWords = 12

// TextParser handles plain text files. Blank lines separate paragraphs, and a
// short single-line paragraph that looks like a heading starts a section.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	paragraphs, err := readParagraphs(r)
	if err != nil {
		return nil, err
	}
	a := newAssembler(titleFromFilename(filename))
	for _, para := range paragraphs {
		a.text(para)
	}
	return a.build(), nil
}

// text routes a plain-text paragraph to a section or a block.
func (a *assembler) text(para string) {
	if isHeading(para) {
		a.section(para)
		return
	}
	a.paragraph(para)
}

func readParagraphs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return paragraphs, nil
}

func splitParagraphs(text string) []string {
	paragraphs, _ := readParagraphs(strings.NewReader(text))
	return paragraphs
}

func isHeading(para string) bool {
	para = strings.TrimSpace(para)
	if para == "" || strings.Contains(para, "\n") {
		return false
	}
	if len(strings.Fields(para)) > maxHeadingWords || strings.HasSuffix(para, ",") {
		return false
	}
	if knownHeadings[strings.ToLower(strings.TrimRight(para, ".:"))] {
		return true
	}
	// A numbered line ending in a period is more likely a list item.
	return numberedLineRe.MatchString(para) && !strings.HasSuffix(para, ".")
}
