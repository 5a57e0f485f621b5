// Package types provides the core interfaces and data structures shared
// by the hubfs storage providers.
package types

import (
	"context"
	"io/fs"
	"time"

	"github.com/hubfs/hubfs/pkg/stream"
)

// ObjectInfo represents metadata about one object or directory in a
// mounted storage.
type ObjectInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	ContentType string    `json:"content_type"`
	Mode        fs.FileMode
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// Storage defines the interface every mounted storage provider
// implements. Paths are provider-relative, without the scheme prefix.
type Storage interface {
	// Scheme returns the URL scheme the provider is mounted under.
	Scheme() string

	// Head returns the metadata of the object or directory at path.
	Head(ctx context.Context, path string) (*ObjectInfo, error)

	// List returns the entries directly under path.
	List(ctx context.Context, path string) ([]DirEntry, error)

	// Exists reports whether path resolves to anything at all.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether path is a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// IsFile reports whether path is a regular file.
	IsFile(ctx context.Context, path string) (bool, error)

	// IsSymlink reports whether path is a symbolic link.
	IsSymlink(ctx context.Context, path string) (bool, error)

	// ReadLink returns the target of the symbolic link at path.
	ReadLink(ctx context.Context, path string) (string, error)

	// OpenRaw opens an unbuffered stream on the object at path.
	OpenRaw(ctx context.Context, path string, mode stream.Mode) (*stream.Raw, error)

	// OpenBuffered opens a chunked stream on the object at path.
	OpenBuffered(ctx context.Context, path string, mode stream.Mode) (*stream.Buffered, error)
}
