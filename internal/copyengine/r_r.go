package copyengine

import "context"

// runRtoR is the repository-to-repository arm: a single path-driven commit
// over a repository-access session attached at the combined ancestor of
// every source and destination.
func runRtoR(ctx context.Context, pairs []*Pair, isMove bool, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	// Step 1: combined top URL.
	topURL := CombinedAncestor(LongestCommonAncestor(srcURLs(pairs)), DestAncestor(dstPaths(pairs)))

	// Step 2: resurrection pass 1.
	for _, p := range pairs {
		if p.Src == p.Dst {
			p.Resurrection = true
			if p.Src == topURL {
				topURL = dirname(topURL)
			}
		}
	}

	// Step 3: open the RA session.
	ra := deps.RAFactory()
	if topURL == "" {
		return nil, newErr(CodeUnsupportedFeature, "", "Source and dest appear not to be in the same repository")
	}
	reposRoot, err := ra.Open(ctx, topURL)
	if err != nil {
		return nil, wrapErr(CodeIllegalURL, topURL, err, "failed to open repository session")
	}

	// Step 4: resurrection pass 2.
	for _, p := range pairs {
		if p.Dst != reposRoot && p.Dst != p.Src && IsPrefix(p.Dst, p.Src) {
			p.Resurrection = true
			parent := dirname(topURL)
			if err := ra.Reparent(ctx, parent); err != nil {
				return nil, wrapErr(CodeIllegalURL, parent, err, "failed to reparent repository session")
			}
			topURL = parent
		}
	}

	// Step 5: youngest revision as the dst-existence baseline.
	youngest, err := ra.GetLatestRevnum(ctx)
	if err != nil {
		return nil, wrapErr(CodeNotFound, topURL, err, "failed to fetch latest revision")
	}

	// Step 6: per-pair revision/path resolution and existence checks.
	for _, p := range pairs {
		if err := cctx.checkCancel(ctx); err != nil {
			return nil, err
		}

		revnum, err := resolveOpRevnum(p.SrcOp, youngest)
		if err != nil {
			return nil, err
		}
		p.SrcRevnum = revnum

		srcURL := p.Src
		if p.SrcPeg.Kind != p.SrcOp.Kind || p.SrcPeg.Num != p.SrcOp.Num {
			resolved, err := ra.ReposLocations(ctx, srcURL, pegRevnum(p.SrcPeg, youngest), revnum)
			if err != nil {
				return nil, wrapErr(CodeNotFound, srcURL, err, "failed to translate peg revision")
			}
			srcURL = resolved
			p.Src = resolved
		}

		p.SrcRel = relativeTo(topURL, srcURL)
		p.DstRel = relativeTo(topURL, p.Dst)

		if isMove && p.SrcRel == "" {
			return nil, newErr(CodeUnsupportedFeature, p.Dst, "cannot move a path into itself")
		}

		kind, err := ra.CheckPath(ctx, p.SrcRel, p.SrcRevnum)
		if err != nil {
			return nil, wrapErr(CodeNotFound, srcURL, err, "failed to check source path")
		}
		if kind == KindNone {
			return nil, newErr(CodeNotFound, srcURL, "source does not exist at r%d", p.SrcRevnum)
		}
		p.SrcKind = kind

		dstKind, err := ra.CheckPath(ctx, p.DstRel, youngest)
		if err != nil {
			return nil, wrapErr(CodeAlreadyExists, p.Dst, err, "failed to check destination path")
		}
		if dstKind != KindNone {
			return nil, newErr(CodeAlreadyExists, p.Dst, "destination already exists")
		}
	}

	// Step 7: log-message hook / commit items.
	items := make([]LogItem, 0, len(pairs)*2)
	for _, p := range pairs {
		items = append(items, LogItem{Path: p.Dst, Kind: ItemAdd})
		if isMove && !p.Resurrection {
			items = append(items, LogItem{Path: p.Src, Kind: ItemDelete})
		}
	}
	revprops, msg, err := cctx.buildRevprops(items)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil // silent abort
	}

	// Step 8: per-pair history metadata.
	calc := &Calculator{RA: ra, History: deps.History}
	for _, p := range pairs {
		hist, err := calc.ComputeForCopy(ctx, p.SrcRel, p.SrcRevnum)
		if err != nil {
			return nil, wrapErr(CodeNotFound, p.Src, err, "failed to compute history metadata")
		}
		p.MergeInfo = Serialize(deps.History, hist)
	}

	// Step 9: open the commit editor.
	editor, err := ra.GetCommitEditor(ctx, revprops)
	if err != nil {
		return nil, wrapErr(CodeIllegalURL, topURL, err, "failed to open commit editor")
	}

	// Step 10: drive the editor path-by-path.
	type rrOp struct {
		pair  *Pair
		isSrc bool
	}
	ops := make(map[string]rrOp, len(pairs)*2)
	driverPaths := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		// Same-revision, same-path resurrection is a no-op: the pair
		// names the path it's already at, at the revision it's already
		// at, so committing an add there would restore exactly what's
		// already live. Skip the pair instead of driving a redundant
		// add/delete through the editor.
		if p.Resurrection && p.SrcRel == p.DstRel && p.SrcRevnum == youngest {
			continue
		}

		ops[p.DstRel] = rrOp{pair: p, isSrc: false}
		driverPaths = append(driverPaths, p.DstRel)
		if isMove && !p.Resurrection {
			ops[p.SrcRel] = rrOp{pair: p, isSrc: true}
			driverPaths = append(driverPaths, p.SrcRel)
		}
	}

	driveErr := deps.PathDriver.Drive(driverPaths, func(path string) error {
		op := ops[path]
		switch DecideAction(op.pair.Resurrection, isMove, op.isSrc) {
		case ActionNoop:
			return nil
		case ActionDelete:
			return editor.DeleteEntry(path)
		default: // ActionAdd
			if op.pair.SrcKind == KindDirectory {
				if err := editor.AddDirectory(path, op.pair.Src, op.pair.SrcRevnum); err != nil {
					return err
				}
				if op.pair.MergeInfo != "" {
					if err := editor.ChangeDirProp(path, HistoryPropName, op.pair.MergeInfo); err != nil {
						return err
					}
				}
				return editor.CloseDirectory(path)
			}
			if err := editor.AddFile(path, op.pair.Src, op.pair.SrcRevnum); err != nil {
				return err
			}
			if op.pair.MergeInfo != "" {
				if err := editor.ChangeFileProp(path, HistoryPropName, op.pair.MergeInfo); err != nil {
					return err
				}
			}
			return editor.CloseFile(path)
		}
	})

	// Step 11: abort on driver failure, else close.
	if driveErr != nil {
		_ = editor.AbortEdit()
		return nil, driveErr
	}

	info, err := editor.CloseEdit()
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if p.Resurrection && p.SrcRel == p.DstRel && p.SrcRevnum == youngest {
			continue
		}
		cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "R->R"})
	}
	cctx.notify(Notification{Action: NotifyCommitPostfix, Arm: "R->R"})
	return []CommitInfo{info}, nil
}

func srcURLs(pairs []*Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Src
	}
	return out
}

// pegRevnum resolves a peg revision the same way resolveOpRevnum resolves an
// operational one; pegs are restricted to head/number by the Pair Builder
// (step 2) so the same resolution rule applies.
func pegRevnum(r Revision, youngest int64) int64 {
	n, err := resolveOpRevnum(r, youngest)
	if err != nil {
		return youngest
	}
	return n
}
