// internal/build/walk.go
package build

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// file is a regular file found under a root
type file struct {
	rel string // slash-separated path relative to the walked root
	abs string
}

// collect walks root and returns its regular files sorted by relative path.
// Errors on individual entries are logged and skipped; only a failure to
// open the root itself is returned.
func (b *Builder) collect(root string) ([]file, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening tree %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening tree %s: not a directory", root)
	}

	var files []file
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			b.logger.Warn("Skipping unreadable path", zap.String("path", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if p != root && b.ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			b.logger.Debug("Skipping non-regular file", zap.String("path", p), zap.Stringer("mode", d.Type()))
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			b.logger.Warn("Failed to compute relative path", zap.String("path", p), zap.Error(err))
			return nil
		}

		files = append(files, file{rel: filepath.ToSlash(rel), abs: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// ignored checks a base name against the configured ignore patterns
func (b *Builder) ignored(name string) bool {
	for _, pattern := range b.ignore {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
