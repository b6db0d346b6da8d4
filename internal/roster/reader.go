package roster

// reader.go parses uploaded roster files into RawRows.
//
// Uploaded CSVs come from spreadsheets on every platform, so parsing is
// forgiving: a UTF-8 BOM is stripped, invalid UTF-8 is replaced, the header
// may be preceded by junk rows, and fully empty rows are skipped.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxHeaderSearchRows is the maximum number of rows scanned for the header.
var MaxHeaderSearchRows = 20

// ErrEmptyRoster is returned when the file contains no data rows.
var ErrEmptyRoster = errors.New("roster contains no data rows")

// Roster is a parsed upload: the resolved header plus its data rows in
// original file order.
type Roster struct {
	Header *Header
	Rows   []RawRow
}

// ParseRoster parses raw CSV bytes into a Roster.
func ParseRoster(data []byte) (*Roster, error) {
	data = sanitizeUTF8(stripBOM(data))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyRoster
	}

	header, headerIdx, err := findHeader(records)
	if err != nil {
		return nil, err
	}

	ros := &Roster{Header: header}
	for _, cells := range records[headerIdx+1:] {
		if isEmptyRow(cells) {
			continue
		}
		row := RawRow{
			Index:     len(ros.Rows),
			Cells:     cells,
			FirstName: cellAt(cells, header.First),
			LastName:  cellAt(cells, header.Last),
			Email:     cellAt(cells, header.Email),
		}
		if header.HasCourses() {
			row.CourseRaw = cellAt(cells, header.Course)
		}
		ros.Rows = append(ros.Rows, row)
	}

	if len(ros.Rows) == 0 {
		return nil, ErrEmptyRoster
	}
	return ros, nil
}

// findHeader scans the leading rows for one that resolves as a roster header.
func findHeader(records [][]string) (*Header, int, error) {
	maxRows := MaxHeaderSearchRows
	if len(records) < maxRows {
		maxRows = len(records)
	}

	var firstErr error
	for i := 0; i < maxRows; i++ {
		h, err := ResolveHeader(records[i])
		if err == nil {
			return h, i, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, -1, firstErr
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if len(bytes.TrimSpace([]byte(c))) > 0 {
			return false
		}
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF), commonly added by
// Windows spreadsheet exports.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement character.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
