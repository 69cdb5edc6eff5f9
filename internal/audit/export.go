package audit

import (
	"bytes"
	"encoding/csv"
	"strings"
	"time"
)

// WriteCSV serialises audit rows, one line per entry. Changes are flattened
// to "field: before -> after" or "field=value" joined by "; ".
func WriteCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"Timestamp", "Actor", "Actor Email", "Action", "Collection", "Account No", "Changes"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			formatTimestamp(row.At),
			row.Actor,
			row.ActorEmail,
			row.Action,
			row.Collection,
			row.AccountNo,
			flatten(row),
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flatten(row Row) string {
	parts := make([]string, 0, len(row.Fields))
	for _, f := range row.Fields {
		if row.Update {
			parts = append(parts, f.Name+": "+f.Before+" -> "+f.After)
			continue
		}
		parts = append(parts, f.Name+"="+f.Value)
	}
	return strings.Join(parts, "; ")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
