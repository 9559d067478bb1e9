package sync

import (
	"context"
)

// RootID identifies the top of the remote store. Folders created directly
// under it are top-level folders.
const RootID = ""

// Remote is a hierarchical object store the engine mirrors local trees into.
// Folders and files are addressed by opaque identifiers issued by the store.
type Remote interface {
	// FindFolder looks up a child folder by exact name, returning ok=false if absent.
	FindFolder(ctx context.Context, parentID, name string) (id string, ok bool, err error)
	// CreateFolder creates a child folder and returns its identifier.
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	// FindFile looks up a file by exact name inside a folder, returning ok=false if absent.
	FindFile(ctx context.Context, parentID, name string) (id string, ok bool, err error)
	// UploadFile stores the local file inside the folder under its base name.
	UploadFile(ctx context.Context, parentID, localPath string) (string, error)
	// DeleteFile removes a file by identifier.
	DeleteFile(ctx context.Context, id string) error
}
