// Package revision implements the peg/operational revision tagged union
// consumed by the copy/move dispatch core's Pair Builder.
//
// A Revision is one of: unspecified, a concrete number, a date, head, base,
// committed, working, or previous. The kind determines which resolution
// rule applies and, for local sources, whether resolution requires a
// working-copy entry lookup at all.
package revision

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

// Kind identifies which alternative of the revision tagged union is set.
type Kind int

const (
	// Unspecified means the caller did not name a revision; the Pair
	// Builder resolves it to Head (URL sources) or Working (local sources).
	Unspecified Kind = iota
	Number
	Date
	Head
	Base
	Committed
	Previous
	Working
)

func (k Kind) String() string {
	switch k {
	case Unspecified:
		return "unspecified"
	case Number:
		return "number"
	case Date:
		return "date"
	case Head:
		return "head"
	case Base:
		return "base"
	case Committed:
		return "committed"
	case Previous:
		return "previous"
	case Working:
		return "working"
	default:
		return "invalid"
	}
}

// Revision is the tagged union of ways a user can name a point in history.
type Revision struct {
	Kind Kind
	Num  int64
	When time.Time
}

// Unspecified reports whether no revision was named.
func (r Revision) Unspecified() bool { return r.Kind == Unspecified }

// RequiresWorkingCopy reports whether resolving this revision needs a local
// working-copy entry (base/committed/previous/working all read the entry).
func (r Revision) RequiresWorkingCopy() bool {
	switch r.Kind {
	case Base, Committed, Previous, Working:
		return true
	default:
		return false
	}
}

// Num64 constructs a concrete numeric revision.
func Num64(n int64) Revision { return Revision{Kind: Number, Num: n} }

// AtDate constructs a date-based revision.
func AtDate(t time.Time) Revision { return Revision{Kind: Date, When: t} }

// HeadRev is the head/latest revision.
var HeadRev = Revision{Kind: Head}

// WorkingRev is the in-progress working-copy state.
var WorkingRev = Revision{Kind: Working}

// Entry is the minimal subset of a working-copy entry's revision bookkeeping
// the revision resolver needs: the entry's last-committed ("BASE") revision
// and, if the entry is itself a scheduled copy, its copy-from revision.
type Entry struct {
	// Revision is the BASE revision recorded for this entry.
	Revision int64
	// CopyFromRev is non-zero when the entry is itself a scheduled copy.
	// ResolveLocal does not consult it: "previous" is always Revision-1.
	CopyFromRev int64
}

// ResolveLocal resolves a revision that requires a working-copy entry
// (base/committed/previous/working) to a concrete revision number.
//
// "previous" resolves to the entry's committed revision minus one, i.e.
// the revision before this entry was last changed here.
func ResolveLocal(r Revision, e Entry) (int64, error) {
	switch r.Kind {
	case Base, Committed, Working:
		return e.Revision, nil
	case Previous:
		if e.Revision <= 0 {
			return 0, fmt.Errorf("revision: cannot resolve 'previous' for unversioned entry")
		}
		return e.Revision - 1, nil
	default:
		return 0, fmt.Errorf("revision: %s is not a working-copy revision", r.Kind)
	}
}

// LooksLikeSemver reports whether a peg-revision-adjacent tag component
// (e.g. the last path segment of a `^/tags/...` URL) parses as a semantic
// version, so the Pair Builder can validate/compare tag-style pegs the way
// it validates numeric ones.
func LooksLikeSemver(tag string) bool {
	if tag == "" {
		return false
	}
	v := tag
	if v[0] != 'v' {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// Parse parses a CLI-facing revision spec: "", "HEAD", "BASE", "COMMITTED",
// "PREV"/"PREVIOUS", "WORKING", a bare integer, or an RFC3339 timestamp
// (the date form; free-form "{...}" date braces belong to the prompting
// layer this package does not own).
// An empty string parses to Unspecified so callers can pass an unset flag
// straight through to the Pair Builder's default-resolution rule.
func Parse(spec string) (Revision, error) {
	switch spec {
	case "":
		return Revision{Kind: Unspecified}, nil
	case "HEAD", "head":
		return HeadRev, nil
	case "BASE", "base":
		return Revision{Kind: Base}, nil
	case "COMMITTED", "committed":
		return Revision{Kind: Committed}, nil
	case "PREV", "PREVIOUS", "prev", "previous":
		return Revision{Kind: Previous}, nil
	case "WORKING", "working":
		return WorkingRev, nil
	}
	if n, err := strconv.ParseInt(spec, 10, 64); err == nil {
		return Num64(n), nil
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return AtDate(t), nil
	}
	return Revision{}, fmt.Errorf("revision: cannot parse %q", spec)
}

// CompareSemverTags compares two tag strings as semantic versions. Both must
// satisfy LooksLikeSemver; behavior is undefined otherwise.
func CompareSemverTags(a, b string) int {
	av, bv := a, b
	if len(av) == 0 || av[0] != 'v' {
		av = "v" + av
	}
	if len(bv) == 0 || bv[0] != 'v' {
		bv = "v" + bv
	}
	return semver.Compare(av, bv)
}
