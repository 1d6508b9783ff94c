// Package document reads and writes export documents as JSON or YAML files.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"scriptline/internal/domain"
)

type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported export file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// wireDocument also accepts the legacy top-level "script" mapping.
type wireDocument struct {
	Meta     domain.ExportMeta        `json:"meta" yaml:"meta"`
	Entities map[string]domain.Script `json:"entities" yaml:"entities"`
	Script   map[string]domain.Script `json:"script,omitempty" yaml:"script,omitempty"`
}

func (w wireDocument) export() (domain.ScriptExport, error) {
	doc := domain.ScriptExport{Meta: w.Meta, Entities: map[string]domain.Script{}}
	for k, v := range w.Entities {
		doc.Entities[k] = v
	}
	for k, v := range w.Script {
		if _, dup := doc.Entities[k]; dup {
			return domain.ScriptExport{}, fmt.Errorf("script %s appears under both entities and script", k)
		}
		doc.Entities[k] = v
	}
	return doc, nil
}

// Encode writes doc in the given format. Entities are emitted sorted by id.
func Encode(w io.Writer, doc domain.ScriptExport, f Format) error {
	if doc.Entities == nil {
		doc.Entities = map[string]domain.Script{}
	}
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// Decode reads a document in the given format.
func Decode(r io.Reader, f Format) (domain.ScriptExport, error) {
	var w wireDocument
	switch f {
	case JSON:
		if err := json.NewDecoder(r).Decode(&w); err != nil {
			return domain.ScriptExport{}, fmt.Errorf("invalid export json: %w", err)
		}
	case YAML:
		if err := yaml.NewDecoder(r).Decode(&w); err != nil {
			return domain.ScriptExport{}, fmt.Errorf("invalid export yaml: %w", err)
		}
	default:
		return domain.ScriptExport{}, fmt.Errorf("unknown format %q", f)
	}
	return w.export()
}

// Marshal encodes doc into memory.
func Marshal(doc domain.ScriptExport, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ReadFile(path string) (domain.ScriptExport, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return domain.ScriptExport{}, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return domain.ScriptExport{}, err
	}
	defer fh.Close()
	return Decode(fh, f)
}

// WriteFile writes doc to path, creating parent directories.
func WriteFile(path string, doc domain.ScriptExport) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(doc, f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
