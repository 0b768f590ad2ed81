package schema

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Item is one entry of the synchronized item list.
//
// The ID is unique within a store and, once assigned, must stay stable across
// syncs: the same local item must never produce two remote documents.
type Item struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Category  string `json:"category,omitempty"`
	Done      bool   `json:"done"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Validate checks the fields an item needs before it can be pushed remotely.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if it.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// SuffixFunc produces the short random suffix appended to derived item ids.
// It is injectable so id assignment is deterministic under test.
type SuffixFunc func() string

// RandomSuffix returns a 4-hex-char suffix from crypto/rand.
func RandomSuffix() string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read on supported platforms does not fail; fall back to a
		// constant rather than propagating an error into id assignment.
		return "0000"
	}
	return hex.EncodeToString(b[:])
}

// SlugID derives an item id from its display text: lowercase, whitespace runs
// collapsed to single hyphens, plus a short suffix to avoid collisions.
func SlugID(text string, suffix SuffixFunc) string {
	if suffix == nil {
		suffix = RandomSuffix
	}
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = strings.Join(strings.Fields(slug), "-")
	if slug == "" {
		slug = "item"
	}
	return slug + "-" + suffix()
}

// DecodeItems parses a tracked items slot value.
func DecodeItems(raw []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode item list: %w", err)
	}
	return items, nil
}

// EncodeItems serializes an item list as a complete slot replacement value.
func EncodeItems(items []Item) ([]byte, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item list: %w", err)
	}
	return data, nil
}
