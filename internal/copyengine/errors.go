package copyengine

import "fmt"

// Code identifies the category of a copy/move dispatch error. The strings
// match the client library's historical error names so callers can
// pattern-match on them.
type Code string

const (
	CodeMultipleSourcesDisallowed Code = "MULTIPLE_SOURCES_DISALLOWED"
	CodeUnsupportedFeature        Code = "UNSUPPORTED_FEATURE"
	CodeBadRevision               Code = "CLIENT_BAD_REVISION"
	CodeEntryExists               Code = "ENTRY_EXISTS"
	CodeAlreadyExists             Code = "FS_ALREADY_EXISTS"
	CodeUnknownKind               Code = "NODE_UNKNOWN_KIND"
	CodeNotFound                  Code = "FS_NOT_FOUND"
	CodeNotDirectory              Code = "WC_NOT_DIRECTORY"
	CodeObstructedUpdate          Code = "WC_OBSTRUCTED_UPDATE"
	CodeMissingURL                Code = "ENTRY_MISSING_URL"
	CodeIllegalURL                Code = "RA_ILLEGAL_URL"
	CodeCrossWCBoundary           Code = "WC_CROSS_BOUNDARY"
)

// Error is a tagged dispatch-core error carrying the offending path and an
// optional cause for chaining. It implements errors.Is/As via Unwrap so
// callers can test for a Code with errors.Is(err, &Error{Code: ...}).
type Error struct {
	Code    Code
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Code: CodeEntryExists}) to match on Code
// alone, ignoring Path/Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(code Code, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(code Code, path string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ChainedError composes the multi-phase failure of the WC→R arm:
// a commit error, an unlock error, and a cleanup error, each optional, with a
// human-readable chain whose wrapping rule is:
//
//   - commit failed: lead with "Commit failed (details follow):" and append
//     each subsequent non-nil error with its own prefix.
//   - commit succeeded but a later phase failed: lead with "Commit succeeded,
//     but other errors follow:".
type ChainedError struct {
	Commit  error
	Unlock  error
	Cleanup error
}

// HasError reports whether any phase failed.
func (c *ChainedError) HasError() bool {
	return c.Commit != nil || c.Unlock != nil || c.Cleanup != nil
}

func (c *ChainedError) Error() string {
	var lead string
	var parts []string

	if c.Commit != nil {
		lead = "Commit failed (details follow):"
		parts = append(parts, c.Commit.Error())
	} else {
		lead = "Commit succeeded, but other errors follow:"
	}

	if c.Unlock != nil {
		parts = append(parts, "Error unlocking locked dirs (details follow): "+c.Unlock.Error())
	}
	if c.Cleanup != nil {
		parts = append(parts, "Error in post-commit clean-up (details follow): "+c.Cleanup.Error())
	}

	if len(parts) == 0 {
		return ""
	}

	msg := lead
	for _, p := range parts {
		msg += " " + p
	}
	return msg
}

func (c *ChainedError) Unwrap() error {
	if c.Commit != nil {
		return c.Commit
	}
	if c.Unlock != nil {
		return c.Unlock
	}
	return c.Cleanup
}

// Reconcile builds the final error for a WC→R outcome from its three
// independently-collected phase errors. Returns nil if all three are nil.
func Reconcile(commitErr, unlockErr, cleanupErr error) error {
	c := &ChainedError{Commit: commitErr, Unlock: unlockErr, Cleanup: cleanupErr}
	if !c.HasError() {
		return nil
	}
	return c
}
