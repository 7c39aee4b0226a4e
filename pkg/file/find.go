package file

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

func FindRecentAfter(dir string, startTime time.Time) ([]string, error) {
	var recentFiles []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && !info.ModTime().Before(startTime) {
			recentFiles = append(recentFiles, path)
		}
		return nil
	})

	return recentFiles, err
}

// NewestMatch returns the most recently modified file in dir whose base name
// matches pattern and whose mtime is not before startTime.
func NewestMatch(dir, pattern string, startTime time.Time) (string, bool) {
	recent, err := FindRecentAfter(dir, startTime)
	if err != nil {
		return "", false
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	matches := make([]candidate, 0, len(recent))
	for _, p := range recent {
		ok, err := filepath.Match(pattern, filepath.Base(p))
		if err != nil || !ok {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		matches = append(matches, candidate{path: p, modTime: info.ModTime()})
	}
	if len(matches) == 0 {
		return "", false
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})
	return matches[0].path, true
}
