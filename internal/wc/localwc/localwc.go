// Package localwc is a minimal on-disk working-copy implementation of
// copyengine.WC, storing administrative metadata in internal/wcstore and
// real file content directly under the working copy root. It is sufficient
// to drive the copy/move dispatch core end-to-end against a real
// filesystem; it does not implement a full working-copy format (no
// text-base pristine store, no conflict markers, no sparse checkout
// depths beyond the dispatch core's own DepthEmpty/DepthInfinity).
package localwc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/copycore/vcscopy/internal/copyengine"
	"github.com/copycore/vcscopy/internal/wcstore"
)

// WC implements copyengine.WC against one working copy root.
type WC struct {
	root  string
	store *wcstore.Store

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching map[string]bool
}

// Open attaches to the working copy rooted at root, opening (and
// initializing, if absent) its admin store at root/.vcscopy.
func Open(root string) (*WC, error) {
	st, err := wcstore.Open(filepath.Join(root, ".vcscopy"))
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("localwc: fsnotify: %w", err)
	}
	w := &WC{root: root, store: st, watcher: watcher, watching: map[string]bool{}}
	go w.drainEvents()
	return w, nil
}

// Close releases the admin store and the fsnotify watcher.
func (w *WC) Close() error {
	_ = w.watcher.Close()
	return w.store.Close()
}

// drainEvents pumps fsnotify events for directories this WC watches into
// the entry store. localwc uses the events only to keep HasWorkingFile
// accurate for paths that were obstructed (removed from under us) or
// restored out from under the dispatch core's own WC.Copy/Delete calls.
func (w *WC) drainEvents() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *WC) handleEvent(ev fsnotify.Event) {
	rel := w.relPath(ev.Name)
	ctx := context.Background()
	entry, ok, err := w.store.GetEntry(ctx, rel)
	if err != nil || !ok {
		return
	}
	hasFile := ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0
	if hasFile {
		_, statErr := os.Stat(ev.Name)
		hasFile = statErr == nil
	}
	entry.HasWorkingFile = hasFile
	_ = w.store.PutEntry(ctx, entry)
}

func (w *WC) watchDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching[dir] {
		return
	}
	if err := w.watcher.Add(dir); err == nil {
		w.watching[dir] = true
	}
}

func (w *WC) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

func (w *WC) relPath(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// lock is the copyengine.AdminLock implementation: localwc has a single
// process-wide, refcounted flock (wcstore.Store.Lock), so nested admin
// locks each take one hold and Close releases it. Read-only probe locks
// and Retrieve-derived locks own no hold at all.
type lock struct {
	w      *WC
	path   string
	depth  copyengine.LockDepth
	owning bool
}

func (l *lock) Close() error {
	if !l.owning {
		return nil
	}
	l.owning = false
	return l.w.store.Unlock()
}

func (w *WC) Open(ctx context.Context, path string, depth copyengine.LockDepth) (copyengine.AdminLock, error) {
	if err := w.store.Lock(ctx); err != nil {
		return nil, err
	}
	w.watchDir(w.abs(path))
	return &lock{w: w, path: path, depth: depth, owning: true}, nil
}

func (w *WC) ProbeOpen(ctx context.Context, path string, depth copyengine.LockDepth, readOnly bool) (copyengine.AdminLock, error) {
	kind, err := w.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if kind != copyengine.KindDirectory {
		return nil, fmt.Errorf("localwc: %s is not a versioned directory", path)
	}
	if readOnly {
		w.watchDir(w.abs(path))
		return &lock{w: w, path: path, depth: depth}, nil
	}
	return w.Open(ctx, path, depth)
}

func (w *WC) Retrieve(outer copyengine.AdminLock, path string) (copyengine.AdminLock, bool) {
	l, ok := outer.(*lock)
	if !ok {
		return nil, false
	}
	if l.depth != copyengine.DepthInfinity || !strings.HasPrefix(path, l.path) {
		return nil, false
	}
	return &lock{w: w, path: path, depth: copyengine.DepthEmpty}, true
}

func (w *WC) Entry(ctx context.Context, path string) (copyengine.WCEntry, error) {
	e, ok, err := w.store.GetEntry(ctx, w.relPath(w.abs(path)))
	if err != nil {
		return copyengine.WCEntry{}, err
	}
	if !ok {
		return copyengine.WCEntry{}, fmt.Errorf("localwc: %s is not versioned", path)
	}
	return copyengine.WCEntry{
		URL:                e.URL,
		Revision:           e.Revision,
		CopyFromRev:        e.CopyFromRev,
		Kind:               copyengine.Kind(e.Kind),
		ScheduledForDelete: e.ScheduledForDelete,
		HasWorkingFile:     e.HasWorkingFile,
	}, nil
}

func (w *WC) Exists(ctx context.Context, path string) (copyengine.Kind, error) {
	fi, err := os.Stat(w.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return copyengine.KindNone, nil
		}
		return copyengine.KindNone, err
	}
	if fi.IsDir() {
		return copyengine.KindDirectory, nil
	}
	return copyengine.KindFile, nil
}

func (w *WC) Copy(ctx context.Context, _ copyengine.AdminLock, src, dst string) error {
	srcAbs, dstAbs := w.abs(src), w.abs(dst)
	fi, err := os.Stat(srcAbs)
	if err != nil {
		return fmt.Errorf("localwc: copy source %s: %w", src, err)
	}
	if fi.IsDir() {
		if err := copyDir(srcAbs, dstAbs); err != nil {
			return err
		}
	} else {
		if err := copyFile(srcAbs, dstAbs, fi.Mode()); err != nil {
			return err
		}
	}
	return w.recordCopy(ctx, src, dst, fi.IsDir())
}

func (w *WC) recordCopy(ctx context.Context, src, dst string, isDir bool) error {
	srcEntry, ok, err := w.store.GetEntry(ctx, w.relPath(w.abs(src)))
	if err != nil {
		return err
	}
	kind := copyengine.KindFile
	if isDir {
		kind = copyengine.KindDirectory
	}
	dstEntry := wcstore.Entry{
		Path:           w.relPath(w.abs(dst)),
		Kind:           int(kind),
		HasWorkingFile: true,
	}
	if ok {
		dstEntry.URL = srcEntry.URL
		dstEntry.Revision = srcEntry.Revision
		dstEntry.CopyFromRev = srcEntry.Revision
	}
	return w.store.PutEntry(ctx, dstEntry)
}

func (w *WC) Delete(ctx context.Context, _ copyengine.AdminLock, path string) error {
	abs := w.abs(path)
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("localwc: delete %s: %w", path, err)
	}
	return w.store.DeleteEntry(ctx, w.relPath(abs))
}

func (w *WC) Add(ctx context.Context, _ copyengine.AdminLock, path, copyFromURL string, copyFromRev int64) error {
	kind, err := w.Exists(ctx, path)
	if err != nil {
		return err
	}
	if kind == copyengine.KindNone {
		return fmt.Errorf("localwc: cannot add %s: no working file", path)
	}
	return w.store.PutEntry(ctx, wcstore.Entry{
		Path:           w.relPath(w.abs(path)),
		URL:            copyFromURL,
		CopyFromRev:    copyFromRev,
		Kind:           int(kind),
		HasWorkingFile: true,
	})
}

func (w *WC) AddReposFile(ctx context.Context, _ copyengine.AdminLock, path, tmpFile string, props map[string]string, copyFromURL string, copyFromRev int64) error {
	abs := w.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := copyFile(tmpFile, abs, 0o644); err != nil {
		return fmt.Errorf("localwc: materialize %s: %w", path, err)
	}
	return w.store.PutEntry(ctx, wcstore.Entry{
		Path:           w.relPath(abs),
		URL:            copyFromURL,
		Revision:       copyFromRev,
		CopyFromRev:    copyFromRev,
		Kind:           int(copyengine.KindFile),
		HasWorkingFile: true,
	})
}

// HistoryProp returns the uncommitted history-metadata property recorded
// for path by ExtendHistory or a prior WC->WC copy, for
// internal/mergeinfo's WCLocal lookup. Returns ("", false, nil) when no
// pending history-property extension exists for path.
func (w *WC) HistoryProp(ctx context.Context, path string) (string, bool, error) {
	return w.store.GetPendingProp(ctx, w.relPath(w.abs(path)), copyengine.HistoryPropName)
}

func (w *WC) ExtendHistory(ctx context.Context, _ copyengine.AdminLock, path, extra string) error {
	return w.store.PutPending(ctx, wcstore.Pending{
		Path:   w.relPath(w.abs(path)),
		Action: int(copyengine.ActionAdd),
		Props:  map[string]string{copyengine.HistoryPropName: extra},
	})
}

func (w *WC) HarvestCommitItems(ctx context.Context, paths []string) ([]copyengine.CommitItem, error) {
	rels := make([]string, len(paths))
	for i, p := range paths {
		rels[i] = w.relPath(w.abs(p))
	}
	pendings, err := w.store.PendingUnder(ctx, rels)
	if err != nil {
		return nil, err
	}
	items := make([]copyengine.CommitItem, len(pendings))
	for i, p := range pendings {
		items[i] = copyengine.CommitItem{
			Path:                filepath.Join(w.root, p.Path),
			URL:                 p.URL,
			Action:              copyengine.Action(p.Action),
			OutgoingPropChanges: p.Props,
		}
	}
	return items, nil
}

func (w *WC) CreateTempFile(ctx context.Context) (string, error) {
	f, err := os.CreateTemp("", "vcscopy-tmp-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	_ = f.Close()
	if err := w.store.AddTempFile(ctx, path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (w *WC) RemoveTempFile(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return w.store.RemoveTempFile(ctx, path)
}

func (w *WC) TrackedTempFiles(ctx context.Context) ([]string, error) {
	return w.store.ListTempFiles(ctx)
}

// ScheduleCopy records a WC-internal copy as a pending add-with-history
// destined for destURL, the real-world counterpart of
// FakeWC.ScheduleCopy in copyengine's test fakes: callers (typically a future "cp"
// subcommand, not this package) use it to stage a commit item ahead of a
// WC->R commit.
func (w *WC) ScheduleCopy(ctx context.Context, path, destURL string) error {
	return w.store.PutPending(ctx, wcstore.Pending{
		Path:   w.relPath(w.abs(path)),
		URL:    destURL,
		Action: int(copyengine.ActionAdd),
		Props:  map[string]string{},
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target, info.Mode())
	})
}
