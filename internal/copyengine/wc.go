package copyengine

import "context"

// LockDepth controls the recursion depth of a WC admin lock.
type LockDepth int

const (
	DepthEmpty LockDepth = iota
	DepthInfinity
)

// AdminLock represents an acquired working-copy administrative lock,
// released by Close. Locks are scoped and must be released
// on every exit path including errors.
type AdminLock interface {
	Close() error
}

// WCEntry is the minimal subset of a working-copy entry's administrative
// metadata the core needs.
type WCEntry struct {
	URL         string
	Revision    int64
	CopyFromRev int64
	Kind        Kind
	ScheduledForDelete bool
	// HasWorkingFile is false when the entry exists in administrative data
	// but the on-disk file is missing (an obstruction).
	HasWorkingFile bool
}

// CommitItem describes one intended change harvested from the working copy
// for a WC→R commit.
type CommitItem struct {
	Path   string
	URL    string
	Action Action
	// OutgoingPropChanges carries property edits to send with the commit,
	// including the merged history metadata.
	OutgoingPropChanges map[string]string
}

// WC is the working-copy administrative library collaborator.
type WC interface {
	// Open acquires a write lock at path with the given depth.
	Open(ctx context.Context, path string, depth LockDepth) (AdminLock, error)
	// ProbeOpen acquires a lock at path if path is a versioned directory;
	// used for read-only attachment (WC→R) and destination probing (R→WC).
	ProbeOpen(ctx context.Context, path string, depth LockDepth, readOnly bool) (AdminLock, error)
	// Retrieve returns an already-open lock covering path, if any is held
	// within the given outer lock.
	Retrieve(outer AdminLock, path string) (AdminLock, bool)

	// Entry reads the administrative entry for path.
	Entry(ctx context.Context, path string) (WCEntry, error)

	// Exists reports whether path exists on disk and its kind.
	Exists(ctx context.Context, path string) (Kind, error)

	// Copy performs a scheduled WC→WC copy of src to dst under lock.
	Copy(ctx context.Context, lock AdminLock, src, dst string) error
	// Delete performs a WC delete of path under lock.
	Delete(ctx context.Context, lock AdminLock, path string) error
	// Add schedules path for addition with history, referencing
	// (copyFromURL, copyFromRev).
	Add(ctx context.Context, lock AdminLock, path, copyFromURL string, copyFromRev int64) error
	// AddReposFile schedules path for addition from a fetched repository
	// file (R→WC file case).
	AddReposFile(ctx context.Context, lock AdminLock, path, tmpFile string, props map[string]string, copyFromURL string, copyFromRev int64) error

	// ExtendHistory merges extra into path's existing history-metadata
	// property after an add.
	ExtendHistory(ctx context.Context, lock AdminLock, path, extra string) error

	// HarvestCommitItems crawls the working copy under paths and returns
	// one CommitItem per pending change, depth-aware.
	HarvestCommitItems(ctx context.Context, paths []string) ([]CommitItem, error)

	// CreateTempFile creates a tracked tempfile for use during commit
	// (e.g. staging an R→WC fetched file); tracked tempfiles are removed
	// during cleanup even on failure.
	CreateTempFile(ctx context.Context) (path string, err error)
	// RemoveTempFile removes a tracked tempfile.
	RemoveTempFile(ctx context.Context, path string) error
	// TrackedTempFiles lists every tempfile created via CreateTempFile and
	// not yet removed, for the WC→R cleanup phase.
	TrackedTempFiles(ctx context.Context) ([]string, error)
}
