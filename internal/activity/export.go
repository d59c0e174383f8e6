package activity

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"time"
)

var csvHeader = []string{"Date", "User", "Action", "Entity Type", "Entity ID", "IP Address", "Details"}

// WriteCSV serialises entries in the export column layout. Entries without a
// user are attributed to "System".
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		user := "System"
		if e.Username != nil {
			user = *e.Username
		}
		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			details = string(raw)
		}
		if err := writer.Write([]string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			user,
			e.Action,
			deref(e.EntityType),
			deref(e.EntityID),
			deref(e.IPAddress),
			details,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
