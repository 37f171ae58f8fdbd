package output

import "time"

// Workspace defines the secondary port for the scratch root: the local
// directory tree that owns every staged dataset and artifact until an
// explicit prune.
type Workspace interface {
	// Root returns the scratch root path.
	Root() string

	// NewRequestDir creates a fresh directory for one conversion request.
	NewRequestDir() (string, error)

	// Prune deletes a file or directory beneath the root. Paths outside
	// the root are refused; absent paths are not an error.
	Prune(path string) error

	// Usage returns the file count and total bytes beneath the root.
	Usage() (int, int64, error)

	// RequestDirs lists the per-request directories beneath the root.
	RequestDirs() ([]RequestDir, error)
}

// RequestDir is one per-request directory beneath the scratch root.
type RequestDir struct {
	Path    string
	ModTime time.Time
}
