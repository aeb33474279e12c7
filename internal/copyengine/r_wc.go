package copyengine

import (
	"context"
	"os"
)

// runRtoWC is the repository-to-working-copy arm. Unlike the commit-producing
// arms it never commits: it writes directly into the working copy via the
// WC collaborator.
func runRtoWC(ctx context.Context, pairs []*Pair, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	defer deps.sleepForTimestamps()

	// Step 2: common source URL (dirname of the lone source when there is
	// only one pair, so the session sits at a parent) and common dest path.
	var commonSrcURL string
	if len(pairs) == 1 {
		commonSrcURL = dirname(pairs[0].Src)
	} else {
		commonSrcURL = LongestCommonAncestor(srcURLs(pairs))
	}
	commonDst := DestAncestor(dstPaths(pairs))

	// Step 3: open the RA session at the common source URL.
	ra := deps.RAFactory()
	if _, err := ra.Open(ctx, commonSrcURL); err != nil {
		return nil, wrapErr(CodeIllegalURL, commonSrcURL, err, "failed to open repository session")
	}
	youngest, err := ra.GetLatestRevnum(ctx)
	if err != nil {
		return nil, wrapErr(CodeNotFound, commonSrcURL, err, "failed to fetch latest revision")
	}

	// Step 1 (resolved here, once the RA session exists) + step 4.
	for _, p := range pairs {
		if err := cctx.checkCancel(ctx); err != nil {
			return nil, err
		}

		revnum, err := resolveOpRevnum(p.SrcOp, youngest)
		if err != nil {
			return nil, err
		}
		p.SrcRevnum = revnum

		if p.SrcPeg.Kind != p.SrcOp.Kind || p.SrcPeg.Num != p.SrcOp.Num {
			resolved, err := ra.ReposLocations(ctx, p.Src, pegRevnum(p.SrcPeg, youngest), revnum)
			if err != nil {
				return nil, wrapErr(CodeNotFound, p.Src, err, "failed to translate peg revision")
			}
			p.Src = resolved
		}
		p.SrcRel = relativeTo(commonSrcURL, p.Src)

		kind, err := ra.CheckPath(ctx, p.SrcRel, p.SrcRevnum)
		if err != nil {
			return nil, wrapErr(CodeNotFound, p.Src, err, "failed to check source path")
		}
		if kind == KindNone {
			return nil, newErr(CodeNotFound, p.Src, "source does not exist at r%d", p.SrcRevnum)
		}
		p.SrcKind = kind

		dk, err := deps.WC.Exists(ctx, p.Dst)
		if err != nil {
			return nil, wrapErr(CodeEntryExists, p.Dst, err, "failed to probe destination")
		}
		if dk != KindNone {
			return nil, newErr(CodeEntryExists, p.Dst, "destination already exists")
		}

		pk, err := deps.WC.Exists(ctx, p.DstParent)
		if err != nil || pk != KindDirectory {
			return nil, newErr(CodeNotDirectory, p.DstParent, "destination parent is not a versioned directory")
		}
	}

	// Step 5: probing lock at the common destination path, obstruction check.
	lock, err := deps.WC.ProbeOpen(ctx, commonDst, DepthInfinity, false)
	if err != nil {
		return nil, wrapErr(CodeNotDirectory, commonDst, err, "failed to lock destination working copy")
	}
	defer lock.Close()

	for _, p := range pairs {
		entry, err := deps.WC.Entry(ctx, p.Dst)
		if err == nil && !entry.HasWorkingFile && !entry.ScheduledForDelete {
			return nil, newErr(CodeObstructedUpdate, p.Dst, "destination is obstructed")
		}
	}

	// Step 6: UUID comparison. Either side missing means "assume different".
	srcUUID, err := ra.GetUUID(ctx)
	if err != nil {
		srcUUID = ""
	}
	var dstUUID string
	if dstEntry, err := deps.WC.Entry(ctx, commonDst); err == nil && dstEntry.URL != "" {
		dstRA := deps.RAFactory()
		if _, err := dstRA.Open(ctx, dstEntry.URL); err == nil {
			if u, err := dstRA.GetUUID(ctx); err == nil {
				dstUUID = u
			}
		}
	}
	sameRepo := srcUUID != "" && dstUUID != "" && srcUUID == dstUUID

	calc := &Calculator{RA: ra, History: deps.History}
	var tempFiles []string
	defer func() {
		for _, tf := range tempFiles {
			_ = deps.WC.RemoveTempFile(ctx, tf)
		}
	}()

	// Step 7: per-pair checkout/fetch.
	for _, p := range pairs {
		if err := cctx.checkCancel(ctx); err != nil {
			return nil, err
		}

		if p.SrcKind == KindDirectory {
			if !sameRepo {
				return nil, newErr(CodeUnsupportedFeature, p.Dst, "foreign repository; leaving as disjoint WC")
			}

			// A HEAD-pegged directory resolves its revision once, against
			// the youngest captured when the session was opened (step 3).
			// By the time this pair's
			// checkout actually runs the repository may have taken new
			// commits, so re-resolve against the current latest revision
			// right before using it, instead of checking out (and
			// recording copy-from/history for) a revision that's already
			// stale. Re-resolve before computing history metadata and
			// before WC.Add, since both consume the concrete revnum.
			if p.SrcOp.Kind == revisionHead {
				if fresh, err := ra.GetLatestRevnum(ctx); err == nil {
					p.SrcRevnum = fresh
				}
			}

			hist, err := calc.ComputeForCopy(ctx, p.SrcRel, p.SrcRevnum)
			if err != nil {
				return nil, wrapErr(CodeNotFound, p.Src, err, "failed to compute history metadata")
			}
			p.MergeInfo = Serialize(deps.History, hist)

			copyFromRev := p.SrcRevnum
			if err := deps.WC.Add(ctx, lock, p.Dst, p.Src, copyFromRev); err != nil {
				return nil, wrapErr(CodeEntryExists, p.Dst, err, "checkout-and-schedule failed")
			}

			dirLock, ok := deps.WC.Retrieve(lock, p.Dst)
			if !ok {
				dirLock, err = deps.WC.Open(ctx, p.Dst, DepthInfinity)
				if err != nil {
					return nil, wrapErr(CodeNotDirectory, p.Dst, err, "failed to lock checked-out directory")
				}
				defer dirLock.Close()
			}
			if err := deps.WC.ExtendHistory(ctx, dirLock, p.Dst, p.MergeInfo); err != nil {
				return nil, wrapErr(CodeNotFound, p.Dst, err, "failed to extend history metadata")
			}
			cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "R->WC"})
			continue
		}

		// File: fetch into a unique tempfile, resolving a HEAD-pegged
		// revision to whatever GetFile actually fetched before computing
		// history metadata, for the same reason the directory case
		// re-resolves before checkout: the repository may have moved
		// since the youngest captured when the session was opened (step 3).
		fetchRev := p.SrcRevnum
		if p.SrcOp.Kind == revisionHead {
			fetchRev = unresolvedRevnum
		}
		content, props, resolvedRev, err := ra.GetFile(ctx, p.SrcRel, fetchRev)
		if err != nil {
			return nil, wrapErr(CodeNotFound, p.Src, err, "failed to fetch source file")
		}
		if p.SrcOp.Kind == revisionHead {
			p.SrcRevnum = resolvedRev
		}

		hist, err := calc.ComputeForCopy(ctx, p.SrcRel, p.SrcRevnum)
		if err != nil {
			return nil, wrapErr(CodeNotFound, p.Src, err, "failed to compute history metadata")
		}
		p.MergeInfo = Serialize(deps.History, hist)

		tmp, err := deps.WC.CreateTempFile(ctx)
		if err != nil {
			return nil, wrapErr(CodeNotDirectory, p.Dst, err, "failed to create tempfile")
		}
		tempFiles = append(tempFiles, tmp)
		if err := os.WriteFile(tmp, content, 0o644); err != nil {
			return nil, wrapErr(CodeNotDirectory, tmp, err, "failed to stage fetched content")
		}

		copyFromURL, copyFromRev := "", int64(0)
		if sameRepo {
			copyFromURL, copyFromRev = p.Src, p.SrcRevnum
		}
		if err := deps.WC.AddReposFile(ctx, lock, p.Dst, tmp, props, copyFromURL, copyFromRev); err != nil {
			return nil, wrapErr(CodeEntryExists, p.Dst, err, "schedule-add-from-repository failed")
		}
		if err := deps.WC.ExtendHistory(ctx, lock, p.Dst, p.MergeInfo); err != nil {
			return nil, wrapErr(CodeNotFound, p.Dst, err, "failed to extend history metadata")
		}
		// AddReposFile does not notify; synthesize it.
		cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "R->WC"})
	}

	return nil, nil
}
