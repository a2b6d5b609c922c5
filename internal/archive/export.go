package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	FirstID   int64     `json:"first_id"`
	LastID    int64     `json:"last_id"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header line followed by one line per execution log
// and returns the highest id written. logs must be in ascending id order.
func ExportJSONL(w io.Writer, logs []*model.ExecutionLog, at time.Time) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	first, last := logs[0].ID, logs[len(logs)-1].ID

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:   "1",
		Type:      "header",
		Timestamp: at,
		Count:     len(logs),
		FirstID:   first,
		LastID:    last,
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, l := range logs {
		if err := enc.Encode(record{Type: "execution_log", Data: l}); err != nil {
			return 0, fmt.Errorf("encode execution log %d: %w", l.ID, err)
		}
	}
	return last, nil
}
