// Package export renders report tables for download.
package export

import (
	"encoding/csv"
	"io"

	"github.com/IstiakDeveloper/gosto-khor/internal/reports"
)

// WriteTableCSV writes the header row followed by every table row.
func WriteTableCSV(w io.Writer, table reports.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return err
	}
	for _, record := range table.Rows {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
