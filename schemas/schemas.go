// Package schemas embeds the JSON Schemas for LLM rationale responses and
// serialized run records.
package schemas

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed *.schema.json
var files embed.FS

// Schema file names.
const (
	RationaleFile = "rationale.schema.json"
	RecordFile    = "record.schema.json"
)

// Load returns the named schema document.
func Load(name string) (string, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("schema %s not found: %w", name, err)
	}
	return string(data), nil
}

// MustLoad is Load for schemas known at compile time.
func MustLoad(name string) string {
	s, err := Load(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Rationale is the schema for a stage rationale response.
func Rationale() string { return MustLoad(RationaleFile) }

// Record is the schema for a serialized run record.
func Record() string { return MustLoad(RecordFile) }

// Names lists the embedded schema files.
func Names() []string {
	entries, _ := files.ReadDir(".")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
