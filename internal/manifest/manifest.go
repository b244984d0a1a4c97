// Package manifest maintains the availability manifest: one JSON document
// tracking every rendered asset the cache holds.
//
// Entries are keyed by a hash of (relative path, sub-tune, format, engine,
// render mode); registering the same key again replaces the prior entry. The
// document is always rewritten in full with key-sorted entries so two runs
// over the same cache produce byte-identical manifests.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"
)

// Entry describes one rendered asset.
type Entry struct {
	ID           string  `json:"id"`
	RelSourceKey string  `json:"relativeSourcePath"`
	SubIndex     int     `json:"subIndex"`
	Format       string  `json:"format"`
	Engine       string  `json:"engine"`
	RenderMode   string  `json:"renderMode"`
	DurationMs   int64   `json:"durationMs"`
	SampleRate   int     `json:"sampleRate"`
	Channels     int     `json:"channels"`
	SizeBytes    int64   `json:"sizeBytes"`
	StoragePath  string  `json:"storagePath"`
	Checksum     string  `json:"checksum"`
	LossRate     float64 `json:"lossRate,omitempty"`
	GeneratedAt  string  `json:"generatedAt"`
}

// EntryKey computes the deterministic manifest key for an asset identity.
func EntryKey(relKey string, subIndex int, format, engine, renderMode string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%s", relKey, subIndex, format, engine, renderMode)))
	return hex.EncodeToString(h[:8])
}

// Manifest is an in-memory view of the manifest document. Safe for use from
// multiple lanes.
type Manifest struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// Load reads the manifest document, tolerating a missing file.
func Load(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var doc map[string]Entry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.entries = doc
	return m, nil
}

// Upsert registers an asset, replacing any prior entry with the same identity.
func (m *Manifest) Upsert(entry Entry) {
	if entry.ID == "" {
		entry.ID = EntryKey(entry.RelSourceKey, entry.SubIndex, entry.Format, entry.Engine, entry.RenderMode)
	}
	if entry.GeneratedAt == "" {
		entry.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
}

// Get returns the entry for an asset identity.
func (m *Manifest) Get(relKey string, subIndex int, format, engine, renderMode string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[EntryKey(relKey, subIndex, format, engine, renderMode)]
	return entry, ok
}

// Len returns the number of registered assets.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns every entry sorted by manifest key.
func (m *Manifest) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.entries[key])
	}
	return out
}

// Save rewrites the manifest document atomically with key-sorted entries.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Marshal through an ordered structure so the document diffs cleanly.
	var buf []byte
	buf = append(buf, '{')
	for i, key := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '\n', ' ', ' ')
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return err
		}
		entryJSON, err := json.MarshalIndent(m.entries[key], "  ", "  ")
		if err != nil {
			return err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':', ' ')
		buf = append(buf, entryJSON...)
	}
	buf = append(buf, '\n', '}', '\n')

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}
