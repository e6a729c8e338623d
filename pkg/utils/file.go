package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemoveStale removes the regular files of dir last modified before cutoff and
// returns their paths. A missing directory is not an error.
func RemoveStale(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		if err := os.Remove(entryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, entryPath)
	}

	return removed, nil
}

// SafeBase returns the last element of name without separators, or fallback
// when nothing usable is left
func SafeBase(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." || base == "" {
		return fallback
	}
	return base
}
