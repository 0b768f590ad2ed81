// Package migrate moves item lists in and out of the local slot store, for
// seeding a fresh store or taking a portable backup. YAML files hold one
// document with an items list; JSONL files hold one item per line.
package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jlucero/espejo/internal/schema"
	"gopkg.in/yaml.v3"
)

// ItemsFile is the YAML import/export document.
type ItemsFile struct {
	Items []ItemEntry `yaml:"items"`
}

// ItemEntry mirrors schema.Item with YAML field names.
type ItemEntry struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Text      string `yaml:"text" json:"text"`
	Category  string `yaml:"category,omitempty" json:"category,omitempty"`
	Done      bool   `yaml:"done" json:"done"`
	Timestamp int64  `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
}

func (e ItemEntry) item() schema.Item {
	return schema.Item{
		ID:        e.ID,
		Text:      e.Text,
		Category:  e.Category,
		Done:      e.Done,
		Timestamp: e.Timestamp,
	}
}

func entry(it schema.Item) ItemEntry {
	return ItemEntry{
		ID:        it.ID,
		Text:      it.Text,
		Category:  it.Category,
		Done:      it.Done,
		Timestamp: it.Timestamp,
	}
}

// ReadItemsFile loads items from a .yaml/.yml or .jsonl file, chosen by
// extension.
func ReadItemsFile(path string) ([]schema.Item, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return readYAML(path)
	case ".jsonl":
		return readJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported import format: %s", filepath.Ext(path))
	}
}

func readYAML(path string) ([]schema.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}

	var file ItemsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse items file %s: %w", path, err)
	}

	items := make([]schema.Item, 0, len(file.Items))
	for i, e := range file.Items {
		if e.Text == "" {
			return nil, fmt.Errorf("item %d in %s has no text", i, path)
		}
		items = append(items, e.item())
	}
	return items, nil
}

func readJSONL(path string) ([]schema.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open items file: %w", err)
	}
	defer f.Close()

	var items []schema.Item
	decoder := json.NewDecoder(f)
	line := 0
	for {
		var e ItemEntry
		if err := decoder.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line+1, err)
		}
		line++
		if e.Text == "" {
			return nil, fmt.Errorf("item at line %d has no text", line)
		}
		items = append(items, e.item())
	}
	return items, nil
}

// WriteItemsFile writes items as YAML, atomically via a temp file.
func WriteItemsFile(path string, items []schema.Item) error {
	file := ItemsFile{Items: make([]ItemEntry, 0, len(items))}
	for _, it := range items {
		file.Items = append(file.Items, entry(it))
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
