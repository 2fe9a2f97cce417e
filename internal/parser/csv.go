package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docask/internal/doctree"
)

// csvBatchSize is how many data rows share one section.
const csvBatchSize = 20

// CSVParser handles CSV files. Rows are grouped into sections of
// csvBatchSize, and each row is written out as "header: value" pairs.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	b := doctree.NewBuilder(titleFromFilename(filename))
	if len(records) == 0 {
		return b.Build(), nil
	}

	// First row is headers.
	headers := records[0]
	dataRows := records[1:]

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var text strings.Builder
		for _, row := range dataRows[i:end] {
			for j, cell := range row {
				if j > 0 {
					text.WriteString(", ")
				}
				if j < len(headers) {
					text.WriteString(headers[j] + ": " + cell)
				} else {
					text.WriteString(cell)
				}
			}
			text.WriteString("\n")
		}

		b.Section(fmt.Sprintf("Rows %d-%d", i+2, end+1)) // 1-indexed, skip header
		b.Paragraph(text.String())
	}

	return b.Build(), nil
}
