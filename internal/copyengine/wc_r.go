package copyengine

import (
	"context"
	"sort"
)

// runWCtoR is the working-copy-to-repository arm: harvest commit items from
// the working copy, annotate them with combined history, drive one commit,
// then reconcile the three independently-collected phase errors.
func runWCtoR(ctx context.Context, pairs []*Pair, deps Deps, cctx *Ctx) ([]CommitInfo, error) {
	defer deps.sleepForTimestamps()

	// Step 1: probe-open a read-only lock at the common source parent.
	srcParent := LongestCommonAncestor(srcPaths(pairs))
	lock, err := deps.WC.ProbeOpen(ctx, srcParent, DepthInfinity, true)
	if err != nil {
		return nil, wrapErr(CodeNotDirectory, srcParent, err, "failed to open source working copy")
	}

	var commitErr, unlockErr, cleanupErr error
	var info []CommitInfo

	commitErr = func() error {
		// Step 2: open an RA session at the common destination URL.
		dstURL := DestAncestor(dstPaths(pairs))
		ra := deps.RAFactory()
		reposRoot, err := ra.Open(ctx, dstURL)
		if err != nil {
			return wrapErr(CodeIllegalURL, dstURL, err, "failed to open repository session")
		}

		// Step 3: per-pair source entry / destination existence.
		for _, p := range pairs {
			if err := cctx.checkCancel(ctx); err != nil {
				return err
			}
			entry, err := deps.WC.Entry(ctx, p.Src)
			if err != nil {
				return wrapErr(CodeMissingURL, p.Src, err, "failed to read source entry")
			}
			p.SrcRevnum = entry.Revision
			p.SrcKind = entry.Kind
			p.SrcRel = relativeTo(reposRoot, entry.URL)
			p.DstRel = relativeTo(dstURL, p.Dst)

			kind, err := ra.CheckPath(ctx, p.DstRel, unresolvedRevnum)
			if err != nil {
				return wrapErr(CodeAlreadyExists, p.Dst, err, "failed to check destination")
			}
			if kind != KindNone {
				return newErr(CodeAlreadyExists, p.Dst, "destination already exists")
			}
		}

		// Step 4: log-message hook.
		items := make([]LogItem, len(pairs))
		for i, p := range pairs {
			items[i] = LogItem{Path: p.Dst, Kind: ItemAdd}
		}
		revprops, msg, err := cctx.buildRevprops(items)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil // silent abort; no commit, not an error
		}

		// Step 5: harvest commit items.
		commitItems, err := deps.WC.HarvestCommitItems(ctx, srcPaths(pairs))
		if err != nil {
			return wrapErr(CodeNotFound, srcParent, err, "failed to harvest commit items")
		}

		// Step 6: reparent to the repository root for property queries.
		if err := ra.Reparent(ctx, reposRoot); err != nil {
			return wrapErr(CodeIllegalURL, reposRoot, err, "failed to reparent to repository root")
		}
		for _, p := range pairs {
			p.DstRel = relativeTo(reposRoot, p.Dst)
		}

		// Step 7: merged history per pair, appended to its commit item.
		calc := &Calculator{RA: ra, History: deps.History}
		byPath := make(map[string]*CommitItem, len(commitItems))
		for i := range commitItems {
			byPath[commitItems[i].Path] = &commitItems[i]
		}
		for _, p := range pairs {
			hist, err := calc.ComputeForWCToRepos(ctx, p.SrcRel, p.SrcRevnum, deps.WC, lock, p.Src)
			if err != nil {
				return wrapErr(CodeNotFound, p.Src, err, "failed to compute history metadata")
			}
			p.MergeInfo = Serialize(deps.History, hist)
			if item, ok := byPath[p.Src]; ok {
				if item.OutgoingPropChanges == nil {
					item.OutgoingPropChanges = map[string]string{}
				}
				item.OutgoingPropChanges[HistoryPropName] = p.MergeInfo
			}
		}

		// Step 8: sort the commit items by path and open the editor on the
		// session, which stays at the repository root. Items are not
		// condensed and the session is not reopened at their common URL.
		sort.Slice(commitItems, func(i, j int) bool { return commitItems[i].Path < commitItems[j].Path })
		editor, err := ra.GetCommitEditor(ctx, revprops)
		if err != nil {
			return wrapErr(CodeIllegalURL, reposRoot, err, "failed to open commit editor")
		}

		paths := make([]string, len(commitItems))
		kindOf := make(map[string]Kind, len(pairs))
		copyFromURL := make(map[string]string, len(pairs))
		copyFromRev := make(map[string]int64, len(pairs))
		for _, p := range pairs {
			kindOf[p.Src] = p.SrcKind
			copyFromURL[p.Src] = reposRoot + "/" + p.SrcRel
			copyFromRev[p.Src] = p.SrcRevnum
		}
		for i, item := range commitItems {
			paths[i] = relativeTo(reposRoot, item.URL)
		}

		driveErr := deps.PathDriver.Drive(paths, func(path string) error {
			var item *CommitItem
			for i := range commitItems {
				if relativeTo(reposRoot, commitItems[i].URL) == path {
					item = &commitItems[i]
					break
				}
			}
			if item == nil {
				return nil
			}
			switch item.Action {
			case ActionDelete:
				return editor.DeleteEntry(path)
			default: // ActionAdd
				if kindOf[item.Path] == KindDirectory {
					if err := editor.AddDirectory(path, copyFromURL[item.Path], copyFromRev[item.Path]); err != nil {
						return err
					}
					for k, v := range item.OutgoingPropChanges {
						if err := editor.ChangeDirProp(path, k, v); err != nil {
							return err
						}
					}
					return editor.CloseDirectory(path)
				}
				if err := editor.AddFile(path, copyFromURL[item.Path], copyFromRev[item.Path]); err != nil {
					return err
				}
				for k, v := range item.OutgoingPropChanges {
					if err := editor.ChangeFileProp(path, k, v); err != nil {
						return err
					}
				}
				return editor.CloseFile(path)
			}
		})

		// Step 9: invoke the commit; collect but do not early-return.
		if driveErr != nil {
			_ = editor.AbortEdit()
			return driveErr
		}
		committed, err := editor.CloseEdit()
		if err != nil {
			return err
		}
		info = []CommitInfo{committed}
		for _, p := range pairs {
			cctx.notify(Notification{Path: p.Dst, Action: NotifyAdd, Arm: "WC->R"})
		}
		cctx.notify(Notification{Action: NotifyCommitPostfix, Arm: "WC->R"})
		return nil
	}()

	// Step 10: cleanup phase always runs.
	unlockErr = lock.Close()
	tempFiles, err := deps.WC.TrackedTempFiles(ctx)
	if err != nil {
		cleanupErr = err
	}
	for _, tf := range tempFiles {
		if err := cctx.checkCancel(ctx); err != nil {
			if cleanupErr == nil {
				cleanupErr = err
			}
			break
		}
		if err := deps.WC.RemoveTempFile(ctx, tf); err != nil && cleanupErr == nil {
			cleanupErr = err
		}
	}

	// Step 11: reconcile. A commit that succeeded but hit a later unlock or
	// cleanup failure still reports its commit_info alongside the reconciled
	// error — only a failed commit leaves info nil.
	if err := Reconcile(commitErr, unlockErr, cleanupErr); err != nil {
		return info, err
	}
	return info, nil
}

func srcPaths(pairs []*Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Src
	}
	return out
}
