package merge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Source is one database file to merge
type Source struct {
	Path string
	// Name is the parent directory name, used for naming and provenance.
	Name string
}

// NewSource derives the logical name from the file's parent directory.
// The name is NFC-normalized so decomposed directory names resolve the same.
func NewSource(path string) Source {
	return Source{
		Path: path,
		Name: norm.NFC.String(filepath.Base(filepath.Dir(path))),
	}
}

// Discover recursively finds files with the given extension under root,
// sorted by path. Paths listed in skip (e.g. the target database) are left out.
func Discover(root, ext string, skip ...string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", root)
	}

	skipSet := make(map[string]bool, len(skip))
	for _, p := range skip {
		if abs, err := filepath.Abs(p); err == nil {
			skipSet[abs] = true
		}
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are left out rather than failing discovery.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && skipSet[abs] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Strings(paths)

	sources := make([]Source, len(paths))
	for i, p := range paths {
		sources[i] = NewSource(p)
	}
	return sources, nil
}
