package schema

import (
	"encoding/json"
	"fmt"
)

// RuntimeState is the per-store runtime singleton.
type RuntimeState struct {
	Lang string `json:"lang"`
}

// SetDefaults applies the default language when the document is absent or
// partially populated.
func (r *RuntimeState) SetDefaults() {
	if r.Lang == "" {
		r.Lang = DefaultLang
	}
}

// PieSettings is the per-store pie configuration singleton: display labels and
// availability state keyed by pie slot.
type PieSettings struct {
	Names  map[string]string `json:"names"`
	Status map[string]string `json:"status"`
}

// SetDefaults replaces nil mappings with empty ones so mirroring a missing
// remote document still writes a complete, usable value.
func (p *PieSettings) SetDefaults() {
	if p.Names == nil {
		p.Names = map[string]string{}
	}
	if p.Status == nil {
		p.Status = map[string]string{}
	}
}

// DecodeLang parses a tracked language slot value (a JSON string).
func DecodeLang(raw []byte) (string, error) {
	var lang string
	if err := json.Unmarshal(raw, &lang); err != nil {
		return "", fmt.Errorf("failed to decode language: %w", err)
	}
	if lang == "" {
		lang = DefaultLang
	}
	return lang, nil
}

// EncodeLang serializes a language code as a slot value.
func EncodeLang(lang string) ([]byte, error) {
	data, err := json.Marshal(lang)
	if err != nil {
		return nil, fmt.Errorf("failed to encode language: %w", err)
	}
	return data, nil
}

// DecodeStringMap parses a pie-name or pie-status slot value.
func DecodeStringMap(raw []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode mapping: %w", err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// EncodeStringMap serializes a slot mapping as a slot value.
func EncodeStringMap(m map[string]string) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mapping: %w", err)
	}
	return data, nil
}
