package copyengine

import (
	"context"
	"errors"
	"path"
	"time"
)

// Deps bundles the external collaborators an arm needs. The dispatch core
// treats all of them as assumed-correct; RAFactory constructs a fresh,
// unopened RA session each time an arm needs to attach to a new URL (an arm
// may open more than one, e.g. R→WC's destination-UUID probe).
type Deps struct {
	RAFactory  func() RA
	WC         WC
	History    History
	PathDriver PathDriver

	// Sleep overrides the timestamp-integrity sleep for tests; nil uses
	// the real wall-clock wait.
	Sleep func()
}

func (d Deps) sleepForTimestamps() {
	if d.Sleep != nil {
		d.Sleep()
		return
	}
	sleepForTimestamps()
}

// sleepForTimestamps waits long enough that a file written right before the
// call and one written right after are distinguishable by mtime. One second
// comfortably exceeds the mtime resolution of every filesystem the WC
// collaborator targets.
func sleepForTimestamps() {
	time.Sleep(1 * time.Second)
}

// Copy is the dispatch core's first public entry point:
// copy(sources, dst, copy_as_child, ctx) → commit_info | err.
func Copy(ctx context.Context, req Request, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	req.IsMove = false
	return dispatch(ctx, req, deps, cctx)
}

// Move is the second public entry point. The source's "force" flag is the
// caller's concern (it governs whether local modifications under src block
// the move); the dispatch core does not interpret it.
func Move(ctx context.Context, req Request, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	req.IsMove = true
	return dispatch(ctx, req, deps, cctx)
}

// dispatch applies the copy-as-child retry contract: on
// ENTRY_EXISTS/FS_ALREADY_EXISTS with copy_as_child set and exactly one
// source, retry once with dst rewritten to join(dst, basename(src)).
func dispatch(ctx context.Context, req Request, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	info, err := runOnce(ctx, req, deps, cctx)
	if err == nil {
		return info, nil
	}
	if !req.CopyAsChild || len(req.Sources) != 1 {
		return nil, err
	}

	var derr *Error
	if !errors.As(err, &derr) || (derr.Code != CodeEntryExists && derr.Code != CodeAlreadyExists) {
		return nil, err
	}

	retryReq := req
	retryReq.Dst = path.Join(req.Dst, basename(req.Sources[0].Path))
	return runOnce(ctx, retryReq, deps, cctx)
}

func runOnce(ctx context.Context, req Request, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	pairs, arm, err := BuildPairs(ctx, req, deps.WC)
	if err != nil {
		return nil, err
	}

	switch arm {
	case ArmWCtoWC:
		return runWCtoWC(ctx, pairs, req.IsMove, deps, cctx)
	case ArmRtoR:
		return runRtoR(ctx, pairs, req.IsMove, deps, cctx)
	case ArmWCtoR:
		return runWCtoR(ctx, pairs, deps, cctx)
	case ArmRtoWC:
		return runRtoWC(ctx, pairs, deps, cctx)
	default:
		return nil, newErr(CodeUnknownKind, "", "unrecognized transport arm")
	}
}

// resolveOpRevnum resolves a repository-sided operational revision to a
// concrete revnum. Date revisions would require the RA collaborator to
// expose a date→revnum lookup it does not carry; we reject them rather than
// invent one.
func resolveOpRevnum(r Revision, youngest int64) (int64, error) {
	switch r.Kind {
	case revisionHead:
		return youngest, nil
	case revisionNumber:
		return r.Num, nil
	default:
		return 0, newErr(CodeBadRevision, "", "%s revisions are not supported on a repository source", r.Kind)
	}
}
