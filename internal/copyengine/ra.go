package copyengine

import "context"

// RA is the repository-access transport collaborator. The
// dispatch core treats it as an external, assumed-correct collaborator; only
// the subset of operations the core drives is declared here.
type RA interface {
	// Open attaches the session to the repository reachable from url,
	// returning the repository root URL.
	Open(ctx context.Context, url string) (reposRoot string, err error)

	// Reparent moves the session root to a new URL within the same
	// repository.
	Reparent(ctx context.Context, url string) error

	// CheckPath reports the kind of node at path (session-relative) at rev,
	// or KindNone if it does not exist.
	CheckPath(ctx context.Context, path string, rev int64) (Kind, error)

	// GetFile fetches a file's contents and properties at rev. If rev is
	// unresolved (unresolvedRevnum), the implementation resolves to the
	// concrete revision it fetched and returns it.
	GetFile(ctx context.Context, path string, rev int64) (content []byte, props map[string]string, resolvedRev int64, err error)

	// GetLatestRevnum returns the youngest revision in the repository.
	GetLatestRevnum(ctx context.Context) (int64, error)

	// GetUUID returns the repository's UUID, or "" if the backend does not
	// expose one (a missing UUID is treated as "different repository").
	GetUUID(ctx context.Context) (string, error)

	// GetReposRoot returns the repository root URL.
	GetReposRoot(ctx context.Context) (string, error)

	// GetCommitEditor opens a commit editor for a path-driven commit,
	// carrying the given revision properties (e.g. log message) and no
	// lock tokens.
	GetCommitEditor(ctx context.Context, revprops map[string]string) (Editor, error)

	// OldestRevAtPath returns the oldest revision at which path has existed
	// as part of its current line of history, or (0, false) if unknown.
	OldestRevAtPath(ctx context.Context, path string, rev int64) (oldest int64, ok bool, err error)

	// ReposLocations translates a peg-revision location to its path at a
	// different operational revision.
	ReposLocations(ctx context.Context, path string, peg, op int64) (resolvedPath string, err error)
}

// Editor is the commit editor / delta collaborator: the
// minimal subset of operations the R→R arm's path driver invokes.
type Editor interface {
	AddFile(path string, copyFromURL string, copyFromRev int64) error
	AddDirectory(path string, copyFromURL string, copyFromRev int64) error
	ChangeFileProp(path, name, value string) error
	ChangeDirProp(path, name, value string) error
	CloseFile(path string) error
	CloseDirectory(path string) error
	DeleteEntry(path string) error
	CloseEdit() (CommitInfo, error)
	AbortEdit() error
}

// PathDriver computes the minimum directory-opening sequence for a set of
// paths and invokes cb once per path. Implementations typically sort
// depth-first.
type PathDriver interface {
	Drive(paths []string, cb func(path string) error) error
}
