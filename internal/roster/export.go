package roster

import (
	"encoding/csv"
	"fmt"
	"io"
)

// UsernameColumn is the header of the column appended to the export.
const UsernameColumn = "Username"

// WriteExport writes the cleaned roster CSV: every original column plus an
// appended Username column, one row per input row in input order. The export
// is produced regardless of sync outcome, so records for failed rows appear
// too. A UTF-8 BOM is prepended so Excel opens the file correctly.
func WriteExport(w io.Writer, ros *Roster, records []Record) error {
	if len(records) != len(ros.Rows) {
		return fmt.Errorf("export: %d records for %d rows", len(records), len(ros.Rows))
	}

	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("export: write BOM: %w", err)
	}

	cw := csv.NewWriter(w)

	width := len(ros.Header.Columns)
	if err := cw.Write(append(append([]string{}, ros.Header.Columns...), UsernameColumn)); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for i, row := range ros.Rows {
		out := make([]string, width+1)
		copy(out, row.Cells)
		out[width] = records[i].Username
		if err := cw.Write(out); err != nil {
			return fmt.Errorf("export: write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
