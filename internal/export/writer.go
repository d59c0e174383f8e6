package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
)

// WriteCSV writes the header row followed by every data row.
func WriteCSV(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// WriteJSON writes the rows as an array of objects keyed by column label.
func WriteJSON(w io.Writer, t Table) error {
	return json.NewEncoder(w).Encode(t.Records())
}
