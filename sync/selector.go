package sync

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Candidate is a local file selected for upload in the current run.
type Candidate struct {
	Path    string    // absolute path of the file
	Root    string    // configured root the file was found under
	ModTime time.Time // last modification time, UTC
	Size    int64
}

// Extensions is a normalized, case-insensitive extension allow-list. An
// empty set allows every file.
type Extensions map[string]struct{}

// NormalizeExtensions lower-cases entries and gives each a leading dot, so
// "zip", ".zip" and ".ZIP" are the same entry. Blank entries are dropped.
func NormalizeExtensions(exts ...string) Extensions {
	set := make(Extensions, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[strings.ToLower(e)] = struct{}{}
	}
	return set
}

// Allows reports whether a file name passes the allow-list.
func (s Extensions) Allows(name string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List returns the entries in sorted order.
func (s Extensions) List() []string {
	out := make([]string, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// SelectChanges walks every root and returns the allowed files modified
// strictly after since, oldest first. Missing roots are logged and skipped.
func SelectChanges(fsys afero.Fs, roots []string, exts Extensions, since time.Time) ([]Candidate, error) {
	var candidates []Candidate
	for _, root := range roots {
		info, err := fsys.Stat(root)
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("folder not found", "path", root)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			slog.Warn("folder is not a directory", "path", root)
			continue
		}

		err = afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !exts.Allows(info.Name()) {
				return nil
			}
			modTime := info.ModTime().UTC()
			if !modTime.After(since) {
				return nil
			}
			candidates = append(candidates, Candidate{
				Path:    path,
				Root:    root,
				ModTime: modTime,
				Size:    info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return candidates, nil
}

// RelativeSegments returns the folder names between root and the directory
// holding path. A file directly under root yields no segments. If the file
// does not sit under root, only its parent directory name is used.
func RelativeSegments(root, path string) []string {
	dir := filepath.Dir(path)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return []string{filepath.Base(dir)}
	}
	if rel == "." {
		return nil
	}
	return strings.FieldsFunc(rel, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
}
