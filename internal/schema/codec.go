package schema

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrParse reports shard content that is not a CSV table of the collection.
var ErrParse = errors.New("malformed shard content")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses shard content. Empty or whitespace-only content is an empty
// dataset. The header may carry columns in any order and may lack or add
// columns, but it must share at least one column with the collection.
// Returned rows are not normalized.
func (c *Collection) Decode(data []byte) (Rows, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return c.Empty(), nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %w", ErrParse, c.Name, err)
	}
	recognised := false
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if c.HasColumn(header[i]) {
			recognised = true
		}
	}
	if !recognised {
		return nil, fmt.Errorf("%w: %s header %q has no known columns", ErrParse, c.Name, strings.Join(header, ","))
	}

	rows := c.Empty()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrParse, c.Name, err)
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: %s line %d has %d fields, header has %d", ErrParse, c.Name, line, len(record), len(header))
		}

		row := make(Row, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Encode renders rows as CSV with the canonical header. Columns outside the
// schema are not written.
func (c *Collection) Encode(rows Rows) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(c.Columns); err != nil {
		return nil, fmt.Errorf("writing %s header: %w", c.Name, err)
	}

	record := make([]string, len(c.Columns))
	for _, row := range rows {
		for i, col := range c.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("writing %s row: %w", c.Name, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flushing %s rows: %w", c.Name, err)
	}

	return buf.Bytes(), nil
}
