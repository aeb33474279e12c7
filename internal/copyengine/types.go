// Package copyengine implements the copy/move dispatch core of the version
// control client: normalizing heterogeneous source specifiers into
// (src, dst) pairs, classifying the transport arm (WC→WC, WC→R, R→WC, R→R),
// and driving the collaborator interfaces (RA, WC, History, Delta) that
// actually touch disk or network.
package copyengine

import "github.com/copycore/vcscopy/internal/copyengine/revision"

// Kind classifies a source node.
type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindDirectory
)

// Side is which side of the transport a path lives on.
type Side int

const (
	SideLocal Side = iota
	SideURL
)

// Pair is a single normalized (src, dst) copy/move request, mutated as the
// chosen arm resolves pegs, revisions, and relative paths.
type Pair struct {
	// Src is the current form of the source; may be rewritten in place by
	// peg-revision resolution (a local source promoted to its URL).
	Src string
	// SrcOriginal is the pre-resolution form, needed for R→WC checkout
	// display.
	SrcOriginal string
	// SrcAbs is the absolute form of Src when local.
	SrcAbs string

	SrcSide Side
	DstSide Side

	SrcPeg Revision
	SrcOp  Revision

	// SrcRevnum is the concrete resolved revision; -1 until resolved.
	SrcRevnum int64

	SrcKind Kind

	// SrcRel is Src relative to an RA-session root, URI-decoded.
	SrcRel string

	Dst       string
	DstParent string
	BaseName  string

	// DstRel is Dst relative to the RA session root.
	DstRel string

	// Resurrection is true when Src and Dst refer to the same node (R→R).
	Resurrection bool

	// MergeInfo is the serialized history metadata to attach to the
	// destination node, computed by the History calculator.
	MergeInfo string
}

// Revision re-exports the tagged union type for convenience within this
// package; see internal/copyengine/revision for the definition.
type Revision = revision.Revision

const unresolvedRevnum int64 = -1

// newPair constructs a Pair with SrcRevnum left unresolved.
func newPair(src string, srcSide Side) *Pair {
	return &Pair{Src: src, SrcOriginal: src, SrcSide: srcSide, SrcRevnum: unresolvedRevnum}
}

// Source is one user-supplied source specifier before pairing with a
// destination.
type Source struct {
	Path string
	Peg  Revision
	Op   Revision
}

// Request is the normalized input to the Pair Builder.
type Request struct {
	Sources     []Source
	Dst         string
	IsMove      bool
	CopyAsChild bool
}

// Action is the per-path decision the R→R path-driver callback computes
// once per path from (resurrection, isMove, path==srcPath).
type Action int

const (
	ActionNoop Action = iota
	ActionAdd
	ActionDelete
)

// DecideAction picks the editor operation for one driven path.
func DecideAction(resurrection, isMove, pathIsSrc bool) Action {
	switch {
	case resurrection && isMove:
		return ActionNoop
	case resurrection && !isMove:
		return ActionAdd
	case !resurrection && isMove && pathIsSrc:
		return ActionDelete
	case !resurrection && isMove && !pathIsSrc:
		return ActionAdd
	default: // !resurrection && !isMove
		return ActionAdd
	}
}

// CommitInfo describes a completed commit-producing operation (WC→R, R→R).
type CommitInfo struct {
	Revision int64
	Date     string
	Author   string
}
