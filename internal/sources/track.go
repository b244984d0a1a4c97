package sources

import (
	"fmt"
	"strings"
)

// Track identifies one playable unit inside the source collection. Files that
// contain multiple sub-tunes produce one Track per sub-tune. Immutable once
// discovered.
type Track struct {
	// Path is the absolute path of the source program.
	Path string
	// RelKey is the collection-relative path with forward slashes.
	RelKey string
	// SubIndex is the 1-based sub-tune index, 0 for single-tune files.
	SubIndex int
}

// Key returns the logical job key relPath[:subIndex].
func (t Track) Key() string {
	if t.SubIndex <= 0 {
		return t.RelKey
	}
	return fmt.Sprintf("%s:%d", t.RelKey, t.SubIndex)
}

// ParseKey splits a logical job key back into its relative path and sub-index.
func ParseKey(key string) (relKey string, subIndex int) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return key, 0
	}
	var sub int
	if _, err := fmt.Sscanf(key[idx+1:], "%d", &sub); err != nil || sub < 0 {
		return key, 0
	}
	return key[:idx], sub
}
