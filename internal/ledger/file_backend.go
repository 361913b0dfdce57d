package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const snapshotSchemaURL = "meetsync://ledger.schema.json"

const snapshotSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"processed_ids": {"type": ["array", "null"], "items": {"type": "string"}},
		"processed_meetings": {"type": ["array", "null"], "items": {"type": "string"}},
		"last_sync": {"type": ["string", "null"]},
		"metadata": {"type": ["object", "null"]}
	}
}`

var compileSnapshotSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(snapshotSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(snapshotSchemaURL)
})

// FileBackend stores the snapshot as a JSON document, replaced atomically on save.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Location() string {
	if b == nil {
		return ""
	}
	return b.Path
}

func (b *FileBackend) Load() (*Snapshot, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if err := validateSnapshot(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.Path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.Path, err)
	}
	return &snapshot, nil
}

func (b *FileBackend) Save(snapshot *Snapshot) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || snapshot == nil {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return atomic.WriteFile(b.Path, bytes.NewReader(data))
}

// Quarantine moves an unreadable file aside so the next save starts clean
// without destroying the evidence.
func (b *FileBackend) Quarantine(now time.Time) (string, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return "", nil
	}
	target := b.Path + ".corrupt-" + now.UTC().Format("20060102T150405")
	if err := os.Rename(b.Path, target); err != nil {
		return "", err
	}
	return target, nil
}

func validateSnapshot(data []byte) error {
	schema, err := compileSnapshotSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
