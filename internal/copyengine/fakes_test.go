// In-memory fakes for the copyengine package's collaborator interfaces (RA,
// WC, History, PathDriver): plain structs with enough real behavior to
// drive the dispatch core end-to-end, not call-counting stubs.
package copyengine

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// node is one entry in a fake repository or working copy tree.
type node struct {
	kind     Kind
	content  []byte
	props    map[string]string
	children map[string]*node // directories only
}

func newDir() *node  { return &node{kind: KindDirectory, children: map[string]*node{}} }
func newFile() *node { return &node{kind: KindFile, props: map[string]string{}} }

// FakeRepo is an in-memory repository: a sequence of committed trees plus a
// UUID, addressed by repos-relative, slash-separated paths.
type FakeRepo struct {
	UUID     string
	Root     string // root URL, e.g. "repo://r"
	Revs     []*node
	OldestAt map[string]int64 // reposRelPath -> oldest revision in current lineage
	History  map[string]map[string][]Range
}

// NewFakeRepo builds a repository with revision 0 as an empty root directory.
func NewFakeRepo(root, uuid string) *FakeRepo {
	return &FakeRepo{
		UUID:     uuid,
		Root:     root,
		Revs:     []*node{newDir()},
		OldestAt: map[string]int64{},
		History:  map[string]map[string][]Range{},
	}
}

// Commit snapshots the current tip into a new revision and returns its
// number.
func (r *FakeRepo) Commit(tip *node) int64 {
	r.Revs = append(r.Revs, tip)
	return int64(len(r.Revs) - 1)
}

func (r *FakeRepo) tip() *node { return r.Revs[len(r.Revs)-1] }

func cloneTree(n *node) *node {
	if n == nil {
		return nil
	}
	c := &node{kind: n.kind, content: append([]byte(nil), n.content...)}
	if n.props != nil {
		c.props = make(map[string]string, len(n.props))
		for k, v := range n.props {
			c.props[k] = v
		}
	}
	if n.children != nil {
		c.children = make(map[string]*node, len(n.children))
		for k, v := range n.children {
			c.children[k] = cloneTree(v)
		}
	}
	return c
}

func lookup(root *node, relPath string) *node {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return root
	}
	cur := root
	for _, comp := range strings.Split(relPath, "/") {
		if cur == nil || cur.children == nil {
			return nil
		}
		cur = cur.children[comp]
	}
	return cur
}

// ensureParentMkdirAll is like ensureParent but creates any missing
// intermediate directories, for fixture setup via Seed.
func ensureParentMkdirAll(root *node, relPath string) (*node, string) {
	relPath = strings.Trim(relPath, "/")
	dir, base := path.Split(relPath)
	dir = strings.Trim(dir, "/")
	cur := root
	if dir != "" {
		for _, comp := range strings.Split(dir, "/") {
			next, ok := cur.children[comp]
			if !ok {
				next = newDir()
				cur.children[comp] = next
			}
			cur = next
		}
	}
	return cur, base
}

func ensureParent(root *node, relPath string) (*node, string, error) {
	relPath = strings.Trim(relPath, "/")
	dir, base := path.Split(relPath)
	parent := lookup(root, strings.TrimSuffix(dir, "/"))
	if parent == nil || parent.kind != KindDirectory {
		return nil, "", fmt.Errorf("copyenginetest: parent of %q does not exist", relPath)
	}
	return parent, base, nil
}

// PutFile places a file at relPath in the repository's current tip,
// committing a new revision, and records its oldest-revision lineage.
func (r *FakeRepo) PutFile(relPath string, content []byte, oldest int64) {
	tip := cloneTree(r.tip())
	parent, base := ensureParentMkdirAll(tip, relPath)
	parent.children[base] = &node{kind: KindFile, content: content, props: map[string]string{}}
	rev := r.Commit(tip)
	r.OldestAt[strings.Trim(relPath, "/")] = oldest
	if oldest == 0 {
		r.OldestAt[strings.Trim(relPath, "/")] = rev
	}
}

// DeletePath commits a new revision with relPath removed from the tip,
// for building up resurrection fixtures (copy/move where dst == src of a
// now-deleted path).
func (r *FakeRepo) DeletePath(relPath string) int64 {
	tip := cloneTree(r.tip())
	parent, base, err := ensureParent(tip, relPath)
	if err != nil {
		panic(err)
	}
	delete(parent.children, base)
	return r.Commit(tip)
}

// FakeRA is a RA backed by a FakeRepo, plus an independent
// in-memory commit-editor implementation.
type FakeRA struct {
	Repo       *FakeRepo
	sessionURL string
}

func NewFakeRA(repo *FakeRepo) *FakeRA { return &FakeRA{Repo: repo} }

// absRelPath turns a path relative to the current session root into one
// relative to the repository root, matching the RA interface's contract
// that CheckPath/GetFile/OldestRevAtPath take session-relative paths while
// the fake's trees are always rooted at the repository root.
func (f *FakeRA) absRelPath(sessionRelPath string) string {
	prefix := strings.Trim(strings.TrimPrefix(f.sessionURL, f.Repo.Root), "/")
	sessionRelPath = strings.Trim(sessionRelPath, "/")
	switch {
	case prefix == "":
		return sessionRelPath
	case sessionRelPath == "":
		return prefix
	default:
		return prefix + "/" + sessionRelPath
	}
}

func (f *FakeRA) Open(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, f.Repo.Root) {
		return "", fmt.Errorf("copyenginetest: %q is not under repository root %q", url, f.Repo.Root)
	}
	f.sessionURL = url
	return f.Repo.Root, nil
}

func (f *FakeRA) Reparent(ctx context.Context, url string) error {
	f.sessionURL = url
	return nil
}

func (f *FakeRA) CheckPath(ctx context.Context, relPath string, rev int64) (Kind, error) {
	tree := f.treeAt(rev)
	n := lookup(tree, f.absRelPath(relPath))
	if n == nil {
		return KindNone, nil
	}
	return n.kind, nil
}

func (f *FakeRA) treeAt(rev int64) *node {
	if rev < 0 || rev >= int64(len(f.Repo.Revs)) {
		return f.Repo.tip()
	}
	return f.Repo.Revs[rev]
}

func (f *FakeRA) GetFile(ctx context.Context, relPath string, rev int64) ([]byte, map[string]string, int64, error) {
	resolved := rev
	if resolved < 0 {
		resolved = int64(len(f.Repo.Revs) - 1)
	}
	n := lookup(f.treeAt(resolved), f.absRelPath(relPath))
	if n == nil || n.kind != KindFile {
		return nil, nil, 0, fmt.Errorf("copyenginetest: no file at %q@%d", relPath, rev)
	}
	return append([]byte(nil), n.content...), n.props, resolved, nil
}

func (f *FakeRA) GetLatestRevnum(ctx context.Context) (int64, error) {
	return int64(len(f.Repo.Revs) - 1), nil
}

func (f *FakeRA) GetUUID(ctx context.Context) (string, error) { return f.Repo.UUID, nil }

func (f *FakeRA) GetReposRoot(ctx context.Context) (string, error) { return f.Repo.Root, nil }

func (f *FakeRA) GetCommitEditor(ctx context.Context, revprops map[string]string) (Editor, error) {
	return &fakeEditor{repo: f.Repo, tip: cloneTree(f.Repo.tip()), revprops: revprops, prefix: f.absRelPath("")}, nil
}

func (f *FakeRA) OldestRevAtPath(ctx context.Context, relPath string, rev int64) (int64, bool, error) {
	oldest, ok := f.Repo.OldestAt[f.absRelPath(relPath)]
	return oldest, ok, nil
}

func (f *FakeRA) ReposLocations(ctx context.Context, relPath string, peg, op int64) (string, error) {
	return relPath, nil
}

// fakeEditor is a Editor that mutates a working tree and commits
// it as a new FakeRepo revision on CloseEdit. Its paths are relative to the
// session root the editor was opened against (prefix), matching the real
// RA/Editor contract that paths are session-relative.
type fakeEditor struct {
	repo     *FakeRepo
	tip      *node
	revprops map[string]string
	prefix   string
}

func (e *fakeEditor) full(sessionRelPath string) string {
	sessionRelPath = strings.Trim(sessionRelPath, "/")
	switch {
	case e.prefix == "":
		return sessionRelPath
	case sessionRelPath == "":
		return e.prefix
	default:
		return e.prefix + "/" + sessionRelPath
	}
}

func (e *fakeEditor) resolveCopyFrom(url string, rev int64) (*node, error) {
	relPath := strings.TrimPrefix(strings.TrimPrefix(url, e.repo.Root), "/")
	tree := e.repo.Revs[rev]
	n := lookup(tree, relPath)
	if n == nil {
		return nil, fmt.Errorf("copyenginetest: copy-from %q@%d not found", relPath, rev)
	}
	return cloneTree(n), nil
}

func (e *fakeEditor) addNode(relPath, copyFromURL string, copyFromRev int64, kind Kind) error {
	var n *node
	if copyFromURL != "" {
		src, err := e.resolveCopyFrom(copyFromURL, copyFromRev)
		if err != nil {
			return err
		}
		n = src
	} else if kind == KindDirectory {
		n = newDir()
	} else {
		n = newFile()
	}
	parent, base, err := ensureParent(e.tip, e.full(relPath))
	if err != nil {
		return err
	}
	parent.children[base] = n
	return nil
}

func (e *fakeEditor) AddFile(path string, copyFromURL string, copyFromRev int64) error {
	return e.addNode(path, copyFromURL, copyFromRev, KindFile)
}

func (e *fakeEditor) AddDirectory(path string, copyFromURL string, copyFromRev int64) error {
	return e.addNode(path, copyFromURL, copyFromRev, KindDirectory)
}

func (e *fakeEditor) ChangeFileProp(relPath, name, value string) error {
	n := lookup(e.tip, e.full(relPath))
	if n == nil {
		return fmt.Errorf("copyenginetest: no node at %q", relPath)
	}
	if n.props == nil {
		n.props = map[string]string{}
	}
	n.props[name] = value
	return nil
}

func (e *fakeEditor) ChangeDirProp(relPath, name, value string) error {
	return e.ChangeFileProp(relPath, name, value)
}

func (e *fakeEditor) CloseFile(path string) error      { return nil }
func (e *fakeEditor) CloseDirectory(path string) error { return nil }

func (e *fakeEditor) DeleteEntry(relPath string) error {
	parent, base, err := ensureParent(e.tip, e.full(relPath))
	if err != nil {
		return err
	}
	delete(parent.children, base)
	return nil
}

func (e *fakeEditor) CloseEdit() (CommitInfo, error) {
	rev := e.repo.Commit(e.tip)
	return CommitInfo{Revision: rev, Author: "test", Date: "1970-01-01T00:00:00Z"}, nil
}

func (e *fakeEditor) AbortEdit() error { return nil }

// FakeHistory is a History whose ranges are merged by simple
// per-path union; ToString/Parse use a deterministic, sorted text form.
type FakeHistory struct{}

func (FakeHistory) Parse(s string) (map[string][]Range, error) {
	out := map[string][]Range{}
	if s == "" {
		return out, nil
	}
	for _, line := range strings.Split(s, ";") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		var start, end int64
		fmt.Sscanf(parts[1], "%d-%d", &start, &end)
		out[parts[0]] = append(out[parts[0]], Range{StartRev: start, EndRev: end})
	}
	return out, nil
}

func (FakeHistory) Merge(a, b map[string][]Range) map[string][]Range {
	out := map[string][]Range{}
	for k, v := range a {
		out[k] = append(out[k], v...)
	}
	for k, v := range b {
		out[k] = append(out[k], v...)
	}
	return out
}

func (FakeHistory) ToString(m map[string][]Range) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		ranges := m[k]
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].StartRev < ranges[j].StartRev })
		for _, rg := range ranges {
			fmt.Fprintf(&b, "%s:%d-%d", k, rg.StartRev, rg.EndRev)
		}
	}
	return b.String()
}

func (FakeHistory) ExplicitProp(ctx context.Context, ra RA, relPath string, rev int64) (map[string][]Range, error) {
	fra, ok := ra.(*FakeRA)
	if !ok {
		return map[string][]Range{}, nil
	}
	n := lookup(fra.treeAt(rev), fra.absRelPath(relPath))
	if n == nil || n.props == nil {
		return map[string][]Range{}, nil
	}
	return FakeHistory{}.Parse(n.props[HistoryPropName])
}

func (FakeHistory) WCLocal(ctx context.Context, wc WC, lock AdminLock, wcPath string) (map[string][]Range, error) {
	fwc, ok := wc.(*FakeWC)
	if !ok {
		return map[string][]Range{}, nil
	}
	entry, err := fwc.Entry(ctx, wcPath)
	if err != nil {
		return map[string][]Range{}, nil
	}
	n := lookup(fwc.tree, wcPath)
	if n == nil || n.props == nil {
		return map[string][]Range{}, nil
	}
	_ = entry
	return FakeHistory{}.Parse(n.props[HistoryPropName])
}

// FakeLock is a no-op AdminLock, except that Close returns
// CloseErr when set, letting tests simulate an unlock failure.
type FakeLock struct {
	Path     string
	CloseErr error
}

func (l *FakeLock) Close() error { return l.CloseErr }

// FakeWC is an in-memory WC keyed by absolute, slash-separated
// working-copy paths, with an optional URL per node for entries that were
// themselves checked out from a repository.
type FakeWC struct {
	tree      *node
	urls      map[string]string
	revs      map[string]int64
	scheduled map[string]CommitItem
	tmpSeq    int
	tmps      []string
	ReposRoot string

	// ProbeOpenCloseErr, when set, is attached to the lock returned by the
	// next ProbeOpen call and then cleared, so a test can make that lock's
	// Close fail once (commit succeeds, unlock fails).
	ProbeOpenCloseErr error

	// RemoveTempFileErr, when set, fails every RemoveTempFile call, for
	// cleanup-phase failure injection.
	RemoveTempFileErr error
}

// NewFakeWC builds an empty working copy rooted at "/wc", with URL mapping
// to reposRoot for entries added via Add/AddReposFile.
func NewFakeWC(reposRoot string) *FakeWC {
	return &FakeWC{
		tree:      newDir(),
		urls:      map[string]string{},
		revs:      map[string]int64{},
		scheduled: map[string]CommitItem{},
		ReposRoot: reposRoot,
	}
}

// Seed places a file or directory at an absolute WC path with the given
// recorded URL/revision, bypassing scheduling (used to set up fixtures).
func (w *FakeWC) Seed(absPath string, kind Kind, url string, rev int64) {
	parent, base := ensureParentMkdirAll(w.tree, absPath)
	if kind == KindDirectory {
		parent.children[base] = newDir()
	} else {
		parent.children[base] = newFile()
	}
	w.urls[strings.Trim(absPath, "/")] = url
	w.revs[strings.Trim(absPath, "/")] = rev
}

func (w *FakeWC) Open(ctx context.Context, path string, depth LockDepth) (AdminLock, error) {
	return &FakeLock{Path: path}, nil
}

func (w *FakeWC) ProbeOpen(ctx context.Context, path string, depth LockDepth, readOnly bool) (AdminLock, error) {
	lock := &FakeLock{Path: path, CloseErr: w.ProbeOpenCloseErr}
	w.ProbeOpenCloseErr = nil
	return lock, nil
}

func (w *FakeWC) Retrieve(outer AdminLock, path string) (AdminLock, bool) {
	return nil, false
}

func (w *FakeWC) Entry(ctx context.Context, absPath string) (WCEntry, error) {
	key := strings.Trim(absPath, "/")
	n := lookup(w.tree, absPath)
	if n == nil {
		return WCEntry{}, fmt.Errorf("copyenginetest: no entry at %q", absPath)
	}
	return WCEntry{
		URL:            w.urls[key],
		Revision:       w.revs[key],
		Kind:           n.kind,
		HasWorkingFile: true,
	}, nil
}

func (w *FakeWC) Exists(ctx context.Context, absPath string) (Kind, error) {
	n := lookup(w.tree, absPath)
	if n == nil {
		return KindNone, nil
	}
	return n.kind, nil
}

func (w *FakeWC) Copy(ctx context.Context, lock AdminLock, src, dst string) error {
	srcNode := lookup(w.tree, src)
	if srcNode == nil {
		return fmt.Errorf("copyenginetest: copy source %q missing", src)
	}
	parent, base, err := ensureParent(w.tree, dst)
	if err != nil {
		return err
	}
	parent.children[base] = cloneTree(srcNode)
	return nil
}

func (w *FakeWC) Delete(ctx context.Context, lock AdminLock, absPath string) error {
	parent, base, err := ensureParent(w.tree, absPath)
	if err != nil {
		return err
	}
	delete(parent.children, base)
	return nil
}

func (w *FakeWC) Add(ctx context.Context, lock AdminLock, absPath, copyFromURL string, copyFromRev int64) error {
	parent, base, err := ensureParent(w.tree, absPath)
	if err != nil {
		return err
	}
	parent.children[base] = newDir()
	key := strings.Trim(absPath, "/")
	w.urls[key] = copyFromURL
	w.revs[key] = copyFromRev
	w.scheduled[key] = CommitItem{Path: absPath, URL: w.ReposRoot + "/" + key, Action: ActionAdd}
	return nil
}

func (w *FakeWC) AddReposFile(ctx context.Context, lock AdminLock, absPath, tmpFile string, props map[string]string, copyFromURL string, copyFromRev int64) error {
	parent, base, err := ensureParent(w.tree, absPath)
	if err != nil {
		return err
	}
	parent.children[base] = &node{kind: KindFile, props: props}
	key := strings.Trim(absPath, "/")
	w.urls[key] = copyFromURL
	w.revs[key] = copyFromRev
	return nil
}

func (w *FakeWC) ExtendHistory(ctx context.Context, lock AdminLock, absPath, extra string) error {
	n := lookup(w.tree, absPath)
	if n == nil {
		return fmt.Errorf("copyenginetest: no entry at %q", absPath)
	}
	if n.props == nil {
		n.props = map[string]string{}
	}
	existing, _ := FakeHistory{}.Parse(n.props[HistoryPropName])
	extraParsed, _ := FakeHistory{}.Parse(extra)
	n.props[HistoryPropName] = FakeHistory{}.ToString(FakeHistory{}.Merge(existing, extraParsed))
	return nil
}

// ScheduleCopy marks absPath as locally scheduled to commit as an
// add-with-history targeting destURL, for WC→R test fixtures that simulate a
// path already `cp`'d within the working copy and awaiting commit.
func (w *FakeWC) ScheduleCopy(absPath, destURL string) {
	key := strings.Trim(absPath, "/")
	w.scheduled[key] = CommitItem{Path: absPath, URL: destURL, Action: ActionAdd}
}

func (w *FakeWC) HarvestCommitItems(ctx context.Context, paths []string) ([]CommitItem, error) {
	out := make([]CommitItem, 0, len(paths))
	for _, p := range paths {
		key := strings.Trim(p, "/")
		if item, ok := w.scheduled[key]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (w *FakeWC) CreateTempFile(ctx context.Context) (string, error) {
	w.tmpSeq++
	path := fmt.Sprintf("/tmp/copyenginetest-%d", w.tmpSeq)
	w.tmps = append(w.tmps, path)
	return path, nil
}

func (w *FakeWC) RemoveTempFile(ctx context.Context, path string) error {
	if w.RemoveTempFileErr != nil {
		return w.RemoveTempFileErr
	}
	for i, p := range w.tmps {
		if p == path {
			w.tmps = append(w.tmps[:i], w.tmps[i+1:]...)
			break
		}
	}
	return nil
}

func (w *FakeWC) TrackedTempFiles(ctx context.Context) ([]string, error) {
	return append([]string(nil), w.tmps...), nil
}

// FakePathDriver drives paths in ascending lexical order (a parent before
// its children), which is
// sufficient for the fixed, small path sets the arm tests exercise.
type FakePathDriver struct{}

func (FakePathDriver) Drive(paths []string, cb func(path string) error) error {
	ordered := append([]string(nil), paths...)
	sort.Strings(ordered)
	for _, p := range ordered {
		if err := cb(p); err != nil {
			return err
		}
	}
	return nil
}
