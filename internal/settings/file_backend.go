package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type fileEntry struct {
	Value       string    `toml:"value"`
	Description string    `toml:"description,omitempty"`
	Active      bool      `toml:"active"`
	UpdatedAt   time.Time `toml:"updated_at"`
}

// fileDocument maps workflow name to setting key to entry.
type fileDocument map[string]map[string]fileEntry

// FileBackend keeps settings in a TOML file. Every call re-reads the file so
// edits made by hand are picked up.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend stores settings at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Path returns the backing file location.
func (b *FileBackend) Path() string { return b.path }

// Get implements Backend.
func (b *FileBackend) Get(_ context.Context, workflow, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.load()
	if err != nil {
		return "", false, err
	}
	entry, ok := doc[workflow][key]
	if !ok || !entry.Active {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Set implements Backend.
func (b *FileBackend) Set(_ context.Context, setting Setting) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.load()
	if err != nil {
		return err
	}
	keys := doc[setting.Workflow]
	if keys == nil {
		keys = make(map[string]fileEntry)
		doc[setting.Workflow] = keys
	}
	entry := keys[setting.Key]
	entry.Value = setting.Value
	if setting.Description != "" {
		entry.Description = setting.Description
	}
	entry.Active = true
	entry.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	keys[setting.Key] = entry
	return b.save(doc)
}

// All implements Backend.
func (b *FileBackend) All(_ context.Context, workflow string) ([]Setting, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []Setting
	for key, entry := range doc[workflow] {
		if !entry.Active {
			continue
		}
		out = append(out, Setting{
			Workflow:    workflow,
			Key:         key,
			Value:       entry.Value,
			Description: entry.Description,
			UpdatedAt:   entry.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, workflow, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	entry, ok := doc[workflow][key]
	if !ok || !entry.Active {
		return false, nil
	}
	entry.Active = false
	entry.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	doc[workflow][key] = entry
	return true, b.save(doc)
}

func (b *FileBackend) load() (fileDocument, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	doc := fileDocument{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	return doc, nil
}

func (b *FileBackend) save(doc fileDocument) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings file: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
