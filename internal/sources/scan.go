package sources

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var playableExtensions = map[string]struct{}{
	".sid":  {},
	".sap":  {},
	".ay":   {},
	".ym":   {},
	".sndh": {},
	".vgm":  {},
	".nsf":  {},
	".mod":  {},
}

// Scan walks the collection root and returns every playable track in
// deterministic key order. Files containing multiple sub-tunes expand into
// one Track per sub-tune. The collection is never written to.
func Scan(root string) ([]Track, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat collection root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("collection root %s is not a directory", root)
	}

	var tracks []Track
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := playableExtensions[ext]; !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relKey := filepath.ToSlash(rel)

		songs := subTuneCount(path, ext)
		if songs <= 1 {
			tracks = append(tracks, Track{Path: path, RelKey: relKey})
			return nil
		}
		for sub := 1; sub <= songs; sub++ {
			tracks = append(tracks, Track{Path: path, RelKey: relKey, SubIndex: sub})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk collection: %w", err)
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Key() < tracks[j].Key() })
	return tracks, nil
}

// subTuneCount reads the sub-tune count from formats whose headers expose it
// cheaply. Unknown or unreadable headers count as a single tune.
func subTuneCount(path, ext string) int {
	if ext != ".sid" {
		return 1
	}
	f, err := os.Open(path)
	if err != nil {
		return 1
	}
	defer f.Close()

	header := make([]byte, 0x12)
	if _, err := io.ReadFull(f, header); err != nil {
		return 1
	}
	magic := string(header[:4])
	if magic != "PSID" && magic != "RSID" {
		return 1
	}
	songs := int(binary.BigEndian.Uint16(header[0x0E:0x10]))
	if songs < 1 {
		return 1
	}
	// Guard against corrupt headers claiming thousands of tunes.
	if songs > 256 {
		return 1
	}
	return songs
}
