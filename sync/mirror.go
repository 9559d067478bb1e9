package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// FolderHandle is a resolved remote folder.
type FolderHandle struct {
	Segments []string // folder names from the store root
	ID       string

	// Pending is set in dry-run mode for folders that do not exist yet.
	Pending bool
}

// Path renders the handle as a slash separated remote path.
func (h FolderHandle) Path() string {
	return "/" + strings.Join(h.Segments, "/")
}

type folderKey struct {
	parentID string
	name     string
}

// Mirror replicates a local folder hierarchy on a Remote. Lookups are cached
// per Mirror, so one Mirror should serve exactly one run.
//
// Folders are found before they are created. Stores that cannot create
// atomically may still end up with duplicate folders when two runs race.
type Mirror struct {
	remote Remote
	dryRun bool
	cache  map[folderKey]string
}

// NewMirror returns a Mirror with an empty cache. In dry-run mode missing
// folders are reported as pending instead of being created.
func NewMirror(remote Remote, dryRun bool) *Mirror {
	return &Mirror{
		remote: remote,
		dryRun: dryRun,
		cache:  make(map[folderKey]string),
	}
}

// EnsureRoot finds or creates the top-level folder name.
func (m *Mirror) EnsureRoot(ctx context.Context, name string) (FolderHandle, error) {
	return m.EnsureNestedPath(ctx, FolderHandle{ID: RootID}, []string{name})
}

// EnsureNestedPath walks segments below root, creating missing folders, and
// returns the deepest one. Blank segments are skipped; with no segments the
// root itself is returned.
func (m *Mirror) EnsureNestedPath(ctx context.Context, root FolderHandle, segments []string) (FolderHandle, error) {
	current := FolderHandle{
		Segments: slices.Clone(root.Segments),
		ID:       root.ID,
		Pending:  root.Pending,
	}
	for _, name := range segments {
		if strings.TrimSpace(name) == "" {
			continue
		}
		current.Segments = append(current.Segments, name)
		if current.Pending {
			continue
		}

		id, pending, err := m.ensureChild(ctx, current.ID, name)
		if err != nil {
			return FolderHandle{}, &Error{Op: "ensure folder", Path: current.Path(), Err: err}
		}
		current.ID = id
		current.Pending = pending
	}
	return current, nil
}

func (m *Mirror) ensureChild(ctx context.Context, parentID, name string) (string, bool, error) {
	key := folderKey{parentID: parentID, name: name}
	if id, ok := m.cache[key]; ok {
		return id, false, nil
	}

	id, ok, err := m.remote.FindFolder(ctx, parentID, name)
	if err != nil {
		return "", false, fmt.Errorf("find: %w", err)
	}
	if !ok {
		if m.dryRun {
			slog.Info("would create folder", "parent", parentID, "name", name)
			return "", true, nil
		}
		id, err = m.remote.CreateFolder(ctx, parentID, name)
		if err != nil {
			return "", false, fmt.Errorf("create: %w", err)
		}
		slog.Debug("folder created", "parent", parentID, "name", name, "id", id)
	}

	m.cache[key] = id
	return id, false, nil
}
