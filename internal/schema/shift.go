package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// ShiftRecord is one immutable entry of the append-only shift log.
//
// The local history is an ordered sequence; only the most recently appended
// record ever propagates remotely, so a record never needs an update path.
type ShiftRecord struct {
	Who       string    `json:"who,omitempty"`
	Note      string    `json:"note,omitempty"`
	Total     float64   `json:"total,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DecodeShifts parses a tracked shift-history slot value.
func DecodeShifts(raw []byte) ([]ShiftRecord, error) {
	var shifts []ShiftRecord
	if err := json.Unmarshal(raw, &shifts); err != nil {
		return nil, fmt.Errorf("failed to decode shift history: %w", err)
	}
	return shifts, nil
}

// EncodeShifts serializes a shift history as a complete slot replacement value.
func EncodeShifts(shifts []ShiftRecord) ([]byte, error) {
	data, err := json.Marshal(shifts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shift history: %w", err)
	}
	return data, nil
}
