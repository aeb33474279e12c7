package copyengine

import "context"

// runWCtoWC is the working-copy-to-working-copy arm. It never produces a
// commit_info: both sub-arms only schedule changes in the working copy.
func runWCtoWC(ctx context.Context, pairs []*Pair, isMove bool, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	defer deps.sleepForTimestamps()

	// Pre-flight, single pass over all pairs.
	for _, p := range pairs {
		kind, err := deps.WC.Exists(ctx, p.Src)
		if err != nil {
			return nil, wrapErr(CodeUnknownKind, p.Src, err, "failed to probe source")
		}
		if kind == KindNone {
			return nil, newErr(CodeUnknownKind, p.Src, "source does not exist")
		}
		p.SrcKind = kind

		if dk, err := deps.WC.Exists(ctx, p.Dst); err != nil {
			return nil, wrapErr(CodeEntryExists, p.Dst, err, "failed to probe destination")
		} else if dk != KindNone {
			return nil, newErr(CodeEntryExists, p.Dst, "destination already exists")
		}

		pk, err := deps.WC.Exists(ctx, p.DstParent)
		if err != nil || pk != KindDirectory {
			return nil, newErr(CodeNotDirectory, p.DstParent, "destination parent is not a versioned directory")
		}

		if err := checkCrossWCBoundary(ctx, deps.WC, p); err != nil {
			return nil, err
		}
	}

	if isMove {
		return nil, runWCtoWCMove(ctx, pairs, deps, cctx)
	}
	return nil, runWCtoWCCopy(ctx, pairs, deps, cctx)
}

// runWCtoWCCopy is the copy sub-arm: one shallow lock on the shared
// destination directory, one WC.Copy per pair.
func runWCtoWCCopy(ctx context.Context, pairs []*Pair, deps Deps, cctx *Ctx) error {
	dstDir := DestAncestor(dstPaths(pairs))

	lock, err := deps.WC.Open(ctx, dstDir, DepthEmpty)
	if err != nil {
		return wrapErr(CodeNotDirectory, dstDir, err, "failed to lock destination directory")
	}
	defer lock.Close()

	for _, p := range pairs {
		if err := cctx.checkCancel(ctx); err != nil {
			return err
		}
		if err := deps.WC.Copy(ctx, lock, p.Src, p.Dst); err != nil {
			return wrapErr(CodeEntryExists, p.Dst, err, "copy failed")
		}
		cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "WC->WC"})
	}
	return nil
}

// runWCtoWCMove is the move sub-arm: each pair is
// handled with its own source lock, reusing or nesting the destination lock
// per the ancestry rule so that src and dst sharing an ancestor directory
// never double-locks it.
func runWCtoWCMove(ctx context.Context, pairs []*Pair, deps Deps, cctx *Ctx) error {
	for _, p := range pairs {
		if err := cctx.checkCancel(ctx); err != nil {
			return err
		}

		srcDir := dirname(p.Src)
		srcDepth := DepthEmpty
		if p.SrcKind == KindDirectory {
			srcDepth = DepthInfinity
		}

		srcLock, err := deps.WC.Open(ctx, srcDir, srcDepth)
		if err != nil {
			return wrapErr(CodeNotDirectory, srcDir, err, "failed to lock source directory")
		}

		var dstLock AdminLock
		var dstLockIsSrcLock bool
		var nestedDstLock bool
		switch {
		case srcDir == p.DstParent:
			dstLock = srcLock
			dstLockIsSrcLock = true
		case IsPrefix(srcDir, p.DstParent) && p.SrcKind == KindDirectory:
			if l, ok := deps.WC.Retrieve(srcLock, p.DstParent); ok {
				dstLock = l
				nestedDstLock = true
			}
		}
		if dstLock == nil {
			l, err := deps.WC.Open(ctx, p.DstParent, DepthEmpty)
			if err != nil {
				srcLock.Close()
				return wrapErr(CodeNotDirectory, p.DstParent, err, "failed to lock destination directory")
			}
			dstLock = l
		}

		copyErr := deps.WC.Copy(ctx, dstLock, p.Src, p.Dst)
		var delErr error
		if copyErr == nil {
			delErr = deps.WC.Delete(ctx, srcLock, p.Src)
		}

		if !dstLockIsSrcLock && !nestedDstLock {
			dstLock.Close()
		}
		srcLock.Close()

		if copyErr != nil {
			return wrapErr(CodeEntryExists, p.Dst, copyErr, "move copy-phase failed")
		}
		if delErr != nil {
			return wrapErr(CodeUnknownKind, p.Src, delErr, "move delete-phase failed")
		}
		cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "WC->WC"})
		cctx.notify(Notification{Path: p.Src, Action: NotifyDelete, Arm: "WC->WC"})
	}
	return nil
}

// checkCrossWCBoundary rejects a pair whose destination parent is rooted in
// a different working copy than the source. Neither side has an RA session
// in this arm, so the check works off the entries' recorded URLs rather
// than an RA repos-root round trip: a source and destination whose URLs
// differ in scheme or first path segment are rejected, even if the two
// paths happen to sit next to each other on disk. Two disjoint checkouts of
// the same repository share that approximated root and are not rejected.
func checkCrossWCBoundary(ctx context.Context, wc WC, p *Pair) error {
	srcEntry, err := wc.Entry(ctx, p.Src)
	if err != nil || srcEntry.URL == "" {
		return nil
	}
	dstEntry, err := wc.Entry(ctx, p.DstParent)
	if err != nil || dstEntry.URL == "" {
		return nil
	}
	if reposRootGuess(srcEntry.URL) != reposRootGuess(dstEntry.URL) {
		return newErr(CodeCrossWCBoundary, p.Dst, "destination belongs to a different working copy than the source")
	}
	return nil
}

// reposRootGuess approximates a repository root from an entry's checkout
// URL as its scheme plus first path segment, the coarsest granularity at
// which two otherwise-unrelated checkouts can be told apart without an RA
// session.
func reposRootGuess(url string) string {
	comps := splitComponents(url)
	if len(comps) == 0 {
		return url
	}
	n := 2
	if len(comps) < n {
		n = len(comps)
	}
	return joinComponents(url, comps[:n])
}

func dstPaths(pairs []*Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Dst
	}
	return out
}
