package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// WriteCSV serialises entries, oldest first, with the metadata as JSON.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"At", "Actor ID", "Actor Email", "Action", "From", "To", "Meta"}); err != nil {
		return err
	}
	for _, e := range entries {
		actorID := ""
		if e.ActorID != nil {
			actorID = strconv.FormatInt(*e.ActorID, 10)
		}
		meta := ""
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		if err := writer.Write([]string{
			e.At.UTC().Format(time.RFC3339),
			actorID,
			e.ActorEmail,
			e.Action,
			e.FromStatus,
			e.ToStatus,
			meta,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
