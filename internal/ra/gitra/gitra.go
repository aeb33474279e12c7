// Package gitra is a minimal RA backend that stores repository state as a
// linear chain of git commits in a bare git repository, driven through the
// git plumbing commands (cat-file, hash-object, mktree, commit-tree,
// update-ref). It exists to drive the copy/move dispatch core end-to-end
// against a real, on-disk backend; it is not a general-purpose git-backed
// VCS implementation. It
// does not track renames, so ReposLocations and history mergeinfo
// computation for git-backed repositories degenerate to identity lookups -
// callers relying on implied history across a rename should not point the
// dispatch core at a gitra repository for that case.
package gitra

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/copycore/vcscopy/internal/copyengine"
	"github.com/copycore/vcscopy/internal/ra"
)

func init() {
	ra.Register("file", func() copyengine.RA { return New() })
	ra.Register("git", func() copyengine.RA { return New() })
}

const (
	emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
	propsPath    = ".vcsprops.json"
	defaultRef   = "refs/heads/main"
)

// Session is a gitra RA session, bound to a bare repository directory and a
// path within it once Open or Reparent has run.
type Session struct {
	gitDir string
	rel    string // session root, repos-root-relative, no leading slash
	ref    string
}

// New constructs an unopened gitra session, suitable as an
// internal/ra.Constructor.
func New() *Session {
	return &Session{ref: defaultRef}
}

// Open attaches the session to the bare git repository containing url and
// sets the session root to url's path within it.
func (s *Session) Open(ctx context.Context, url string) (string, error) {
	gitDir, rel, err := splitURL(url)
	if err != nil {
		return "", err
	}
	s.gitDir = gitDir
	s.rel = rel
	return "file://" + gitDir, nil
}

// Reparent moves the session root to a new URL, which must name the same
// repository Open attached to.
func (s *Session) Reparent(ctx context.Context, url string) error {
	gitDir, rel, err := splitURL(url)
	if err != nil {
		return err
	}
	if gitDir != s.gitDir {
		return fmt.Errorf("gitra: Reparent to a different repository (%s != %s)", gitDir, s.gitDir)
	}
	s.rel = rel
	return nil
}

func (s *Session) full(relPath string) string {
	relPath = strings.TrimPrefix(relPath, "/")
	if s.rel == "" {
		return relPath
	}
	if relPath == "" {
		return s.rel
	}
	return s.rel + "/" + relPath
}

func (s *Session) CheckPath(ctx context.Context, path string, rev int64) (copyengine.Kind, error) {
	tree, err := s.treeForRev(ctx, rev)
	if err != nil {
		return copyengine.KindNone, err
	}
	return s.checkPathInTree(ctx, tree, s.full(path))
}

func (s *Session) checkPathInTree(ctx context.Context, tree, full string) (copyengine.Kind, error) {
	spec := tree
	if full != "" {
		spec = tree + ":" + full
	}
	out, err := s.git(ctx, "cat-file", "-t", spec)
	if err != nil {
		return copyengine.KindNone, nil
	}
	switch strings.TrimSpace(string(out)) {
	case "blob":
		return copyengine.KindFile, nil
	case "tree":
		return copyengine.KindDirectory, nil
	default:
		return copyengine.KindNone, nil
	}
}

func (s *Session) GetFile(ctx context.Context, path string, rev int64) ([]byte, map[string]string, int64, error) {
	effRev, err := s.resolveRev(ctx, rev)
	if err != nil {
		return nil, nil, 0, err
	}
	tree, err := s.treeForRev(ctx, effRev)
	if err != nil {
		return nil, nil, 0, err
	}
	full := s.full(path)
	content, err := s.git(ctx, "cat-file", "-p", tree+":"+full)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("gitra: GetFile %s@%d: %w", path, effRev, err)
	}
	props, err := loadProps(s, ctx, tree)
	if err != nil {
		return nil, nil, 0, err
	}
	return content, props[full], effRev, nil
}

func (s *Session) GetLatestRevnum(ctx context.Context) (int64, error) {
	commits, err := s.orderedCommits(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(commits)), nil
}

func (s *Session) GetUUID(ctx context.Context) (string, error) {
	path := filepath.Join(s.gitDir, "vcscopy-uuid")
	if b, err := os.ReadFile(path); err == nil {
		return strings.TrimSpace(string(b)), nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	uuid := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(uuid+"\n"), 0o644); err != nil {
		return "", err
	}
	return uuid, nil
}

func (s *Session) GetReposRoot(ctx context.Context) (string, error) {
	return "file://" + s.gitDir, nil
}

func (s *Session) OldestRevAtPath(ctx context.Context, path string, rev int64) (int64, bool, error) {
	effRev, err := s.resolveRev(ctx, rev)
	if err != nil {
		return 0, false, err
	}
	if effRev == 0 {
		return 0, false, nil
	}
	kind, err := s.CheckPath(ctx, path, effRev)
	if err != nil {
		return 0, false, err
	}
	if kind == copyengine.KindNone {
		return 0, false, nil
	}
	oldest := effRev
	for r := effRev - 1; r >= 1; r-- {
		k, err := s.CheckPath(ctx, path, r)
		if err != nil {
			return 0, false, err
		}
		if k == copyengine.KindNone {
			break
		}
		oldest = r
	}
	return oldest, true, nil
}

// ReposLocations has no rename tracking in gitra (see package doc): the
// path is assumed stable across revisions.
func (s *Session) ReposLocations(ctx context.Context, path string, peg, op int64) (string, error) {
	return path, nil
}

// GetCommitEditor loads the current tip tree into memory and returns an
// Editor that accumulates changes before materializing them as new git
// objects on CloseEdit.
func (s *Session) GetCommitEditor(ctx context.Context, revprops map[string]string) (copyengine.Editor, error) {
	tip, err := s.currentTip(ctx)
	if err != nil {
		return nil, err
	}
	root, err := loadNode(s, ctx, tip, "")
	if err != nil {
		return nil, err
	}
	return &Editor{s: s, root: root, revprops: revprops, prefix: s.rel}, nil
}

func (s *Session) resolveRev(ctx context.Context, rev int64) (int64, error) {
	if rev >= 0 {
		return rev, nil
	}
	return s.GetLatestRevnum(ctx)
}

// treeForRev returns the tree-ish object for revision rev, where rev 0 is
// the empty repository and rev k (k>=1) is the k-th commit in first-parent
// order on the session's ref.
func (s *Session) treeForRev(ctx context.Context, rev int64) (string, error) {
	effRev, err := s.resolveRev(ctx, rev)
	if err != nil {
		return "", err
	}
	if effRev == 0 {
		return emptyTreeSHA, nil
	}
	commits, err := s.orderedCommits(ctx)
	if err != nil {
		return "", err
	}
	if effRev < 1 || int(effRev) > len(commits) {
		return "", fmt.Errorf("gitra: no such revision %d", effRev)
	}
	out, err := s.git(ctx, "show", "-s", "--format=%T", commits[effRev-1])
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Session) currentTip(ctx context.Context) (string, error) {
	commits, err := s.orderedCommits(ctx)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return emptyTreeSHA, nil
	}
	out, err := s.git(ctx, "show", "-s", "--format=%T", commits[len(commits)-1])
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// orderedCommits returns the session's ref history oldest-first, or an
// empty slice if the ref has no commits yet.
func (s *Session) orderedCommits(ctx context.Context) ([]string, error) {
	out, err := s.git(ctx, "rev-list", "--reverse", s.ref)
	if err != nil {
		return nil, nil // unborn ref: no commits yet
	}
	lines := strings.Fields(string(out))
	return lines, nil
}

func (s *Session) headCommit(ctx context.Context) (string, bool, error) {
	commits, err := s.orderedCommits(ctx)
	if err != nil {
		return "", false, err
	}
	if len(commits) == 0 {
		return "", false, nil
	}
	return commits[len(commits)-1], true, nil
}

func (s *Session) git(ctx context.Context, args ...string) ([]byte, error) {
	return execGit(ctx, s.gitDir, args...)
}

// splitURL locates the bare git directory enclosing url's filesystem path
// by walking up parent directories looking for a git-dir signature
// (HEAD, objects, refs). The remainder below the matched directory becomes
// the repos-root-relative path.
func splitURL(raw string) (gitDir, relPath string, err error) {
	p := strings.TrimPrefix(raw, "file://")
	p = filepath.Clean(p)
	cur := p
	for {
		if looksLikeGitDir(cur) {
			rel := strings.TrimPrefix(p, cur)
			rel = strings.TrimPrefix(rel, string(filepath.Separator))
			return cur, filepath.ToSlash(rel), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", fmt.Errorf("gitra: no git repository found above %q", p)
		}
		cur = parent
	}
}

func looksLikeGitDir(dir string) bool {
	for _, marker := range []string{"HEAD", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err != nil {
			return false
		}
	}
	return true
}

// Init creates a bare git repository suitable as a gitra backend at dir,
// for test fixtures. The vcscopy CLI has no command that calls it.
func Init(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	_, err := execGit(ctx, "", "init", "--bare", "-q", "-b", "main", dir)
	return err
}

// --- in-memory tree model, shared by loadNode/Editor ---

type node struct {
	kind     copyengine.Kind
	blobSHA  string
	props    map[string]string
	children map[string]*node
}

func loadNode(s *Session, ctx context.Context, treeSHA, full string) (*node, error) {
	n := &node{kind: copyengine.KindDirectory, children: map[string]*node{}}
	out, err := s.git(ctx, "ls-tree", treeSHA)
	if err != nil {
		return nil, fmt.Errorf("gitra: ls-tree %s: %w", treeSHA, err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		// "<mode> <type> <sha>\t<name>"
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		name := line[tab+1:]
		if name == propsPath {
			continue // properties sidecar is not a visible child
		}
		meta := strings.Fields(line[:tab])
		if len(meta) != 3 {
			continue
		}
		typ, sha := meta[1], meta[2]
		if typ == "tree" {
			child, err := loadNode(s, ctx, sha, joinRel(full, name))
			if err != nil {
				return nil, err
			}
			n.children[name] = child
		} else {
			n.children[name] = &node{kind: copyengine.KindFile, blobSHA: sha}
		}
	}
	props, err := loadProps(s, ctx, treeSHA)
	if err != nil {
		return nil, err
	}
	attachProps(n, full, props)
	return n, nil
}

func attachProps(n *node, prefix string, props map[string]map[string]string) {
	if p, ok := props[prefix]; ok {
		n.props = p
	}
	for name, child := range n.children {
		attachProps(child, joinRel(prefix, name), props)
	}
}

func joinRel(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func loadProps(s *Session, ctx context.Context, treeSHA string) (map[string]map[string]string, error) {
	out, err := s.git(ctx, "cat-file", "-p", treeSHA+":"+propsPath)
	if err != nil {
		return map[string]map[string]string{}, nil // no sidecar yet
	}
	var props map[string]map[string]string
	if err := json.Unmarshal(out, &props); err != nil {
		return nil, fmt.Errorf("gitra: corrupt %s: %w", propsPath, err)
	}
	return props, nil
}

// walk finds the node at relPath below root, or nil if absent.
func walk(root *node, relPath string) *node {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return root
	}
	cur := root
	for _, part := range strings.Split(relPath, "/") {
		if cur == nil || cur.children == nil {
			return nil
		}
		cur = cur.children[part]
	}
	return cur
}

// ensureDir walks to (creating, if absent) the directory node at relPath.
func ensureDir(root *node, relPath string) *node {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return root
	}
	cur := root
	for _, part := range strings.Split(relPath, "/") {
		if cur.children == nil {
			cur.children = map[string]*node{}
		}
		child, ok := cur.children[part]
		if !ok || child.kind != copyengine.KindDirectory {
			child = &node{kind: copyengine.KindDirectory, children: map[string]*node{}}
			cur.children[part] = child
		}
		cur = child
	}
	return cur
}

func setChild(root *node, relPath string, child *node) {
	relPath = strings.Trim(relPath, "/")
	dir, base := splitLast(relPath)
	parent := ensureDir(root, dir)
	if parent.children == nil {
		parent.children = map[string]*node{}
	}
	parent.children[base] = child
}

func deleteChild(root *node, relPath string) {
	relPath = strings.Trim(relPath, "/")
	dir, base := splitLast(relPath)
	parent := walk(root, dir)
	if parent == nil || parent.children == nil {
		return
	}
	delete(parent.children, base)
}

func splitLast(relPath string) (dir, base string) {
	i := strings.LastIndexByte(relPath, '/')
	if i < 0 {
		return "", relPath
	}
	return relPath[:i], relPath[i+1:]
}

// Editor implements copyengine.Editor against the in-memory node model,
// materializing the result as git objects on CloseEdit.
type Editor struct {
	s        *Session
	root     *node
	revprops map[string]string
	prefix   string
	aborted  bool
}

func (e *Editor) full(p string) string {
	p = strings.TrimPrefix(p, "/")
	if e.prefix == "" {
		return p
	}
	if p == "" {
		return e.prefix
	}
	return e.prefix + "/" + p
}

func (e *Editor) AddFile(path, copyFromURL string, copyFromRev int64) error {
	full := e.full(path)
	if copyFromURL == "" {
		setChild(e.root, full, &node{kind: copyengine.KindFile, props: map[string]string{}})
		return nil
	}
	src, err := e.resolveCopyFrom(copyFromURL, copyFromRev)
	if err != nil {
		return err
	}
	setChild(e.root, full, cloneNode(src))
	return nil
}

func (e *Editor) AddDirectory(path, copyFromURL string, copyFromRev int64) error {
	full := e.full(path)
	if copyFromURL == "" {
		setChild(e.root, full, &node{kind: copyengine.KindDirectory, children: map[string]*node{}, props: map[string]string{}})
		return nil
	}
	src, err := e.resolveCopyFrom(copyFromURL, copyFromRev)
	if err != nil {
		return err
	}
	setChild(e.root, full, cloneNode(src))
	return nil
}

func cloneNode(n *node) *node {
	out := &node{kind: n.kind, blobSHA: n.blobSHA}
	if n.props != nil {
		out.props = make(map[string]string, len(n.props))
		for k, v := range n.props {
			out.props[k] = v
		}
	}
	if n.children != nil {
		out.children = make(map[string]*node, len(n.children))
		for k, c := range n.children {
			out.children[k] = cloneNode(c)
		}
	}
	return out
}

// resolveCopyFrom loads the node at copyFromURL's session-relative path as
// of copyFromRev, from a freshly opened session against the same
// repository so that a copy-from-a-different-revision doesn't disturb the
// editor's in-progress tip.
func (e *Editor) resolveCopyFrom(copyFromURL string, copyFromRev int64) (*node, error) {
	gitDir, rel, err := splitURL(copyFromURL)
	if err != nil {
		return nil, err
	}
	if gitDir != e.s.gitDir {
		return nil, fmt.Errorf("gitra: cross-repository copy-from is not supported (%s != %s)", gitDir, e.s.gitDir)
	}
	src := &Session{gitDir: gitDir, ref: e.s.ref}
	ctx := context.Background()
	tree, err := src.treeForRev(ctx, copyFromRev)
	if err != nil {
		return nil, err
	}
	full := rel
	n, err := loadNode(src, ctx, tree, "")
	if err != nil {
		return nil, err
	}
	found := walk(n, full)
	if found == nil {
		return nil, fmt.Errorf("gitra: copy-from source %s@%d not found", copyFromURL, copyFromRev)
	}
	return found, nil
}

func (e *Editor) ChangeFileProp(path, name, value string) error {
	n := walk(e.root, e.full(path))
	if n == nil {
		return fmt.Errorf("gitra: ChangeFileProp on unknown path %s", path)
	}
	if n.props == nil {
		n.props = map[string]string{}
	}
	n.props[name] = value
	return nil
}

func (e *Editor) ChangeDirProp(path, name, value string) error {
	return e.ChangeFileProp(path, name, value)
}

func (e *Editor) CloseFile(path string) error      { return nil }
func (e *Editor) CloseDirectory(path string) error { return nil }

func (e *Editor) DeleteEntry(path string) error {
	deleteChild(e.root, e.full(path))
	return nil
}

func (e *Editor) AbortEdit() error {
	e.aborted = true
	return nil
}

// CloseEdit materializes the accumulated node tree as git tree/blob objects
// bottom-up, commits it as a child of the session's current tip, and
// advances the session's ref.
func (e *Editor) CloseEdit() (copyengine.CommitInfo, error) {
	ctx := context.Background()
	propsOut := map[string]map[string]string{}
	treeSHA, err := e.writeTree(ctx, e.root, "", propsOut)
	if err != nil {
		return copyengine.CommitInfo{}, err
	}
	if len(propsOut) > 0 {
		treeSHA, err = e.attachPropsSidecar(ctx, treeSHA, propsOut)
		if err != nil {
			return copyengine.CommitInfo{}, err
		}
	}

	parent, hasParent, err := e.s.headCommit(ctx)
	if err != nil {
		return copyengine.CommitInfo{}, err
	}
	msg := e.revprops["svn:log"]
	args := []string{"commit-tree", treeSHA, "-m", msg}
	if hasParent {
		args = append(args, "-p", parent)
	}
	out, err := e.s.git(ctx, args...)
	if err != nil {
		return copyengine.CommitInfo{}, fmt.Errorf("gitra: commit-tree: %w", err)
	}
	commitSHA := strings.TrimSpace(string(out))
	if _, err := e.s.git(ctx, "update-ref", e.s.ref, commitSHA); err != nil {
		return copyengine.CommitInfo{}, fmt.Errorf("gitra: update-ref: %w", err)
	}

	rev, err := e.s.GetLatestRevnum(ctx)
	if err != nil {
		return copyengine.CommitInfo{}, err
	}
	return copyengine.CommitInfo{
		Revision: rev,
		Date:     time.Now().UTC().Format(time.RFC3339),
		Author:   e.revprops["vcs:author"],
	}, nil
}

// writeTree recursively hashes n into git objects, recording leaf
// properties into propsOut keyed by repos-root-relative path.
func (e *Editor) writeTree(ctx context.Context, n *node, prefix string, propsOut map[string]map[string]string) (string, error) {
	if len(n.props) > 0 {
		propsOut[prefix] = n.props
	}
	if n.kind == copyengine.KindFile {
		if n.blobSHA != "" {
			return n.blobSHA, nil
		}
		// Reached only for an AddFile with no copyFromURL, which the
		// dispatch core's R->R and WC->R arms never issue (both only add
		// nodes with history); a blank file is the defensible degenerate
		// case for interface completeness.
		sha, err := e.s.gitStdin(ctx, []byte{}, "hash-object", "-w", "--stdin")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(sha)), nil
	}

	var buf bytes.Buffer
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.children[name]
		childSHA, err := e.writeTree(ctx, child, joinRel(prefix, name), propsOut)
		if err != nil {
			return "", err
		}
		mode, typ := "100644", "blob"
		if child.kind == copyengine.KindDirectory {
			mode, typ = "040000", "tree"
		}
		fmt.Fprintf(&buf, "%s %s %s\t%s\n", mode, typ, childSHA, name)
	}
	out, err := e.s.gitStdin(ctx, buf.Bytes(), "mktree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Editor) attachPropsSidecar(ctx context.Context, treeSHA string, props map[string]map[string]string) (string, error) {
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return "", err
	}
	blobSHA, err := e.s.gitStdin(ctx, data, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	out, err := e.s.git(ctx, "ls-tree", treeSHA)
	if err != nil {
		return "", err
	}
	lines := strings.TrimRight(string(out), "\n")
	entry := fmt.Sprintf("100644 blob %s\t%s", strings.TrimSpace(string(blobSHA)), propsPath)
	if lines == "" {
		lines = entry
	} else {
		lines = lines + "\n" + entry
	}
	newTree, err := e.s.gitStdin(ctx, []byte(lines+"\n"), "mktree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(newTree)), nil
}

// gitra repositories are bare, so every git invocation is --git-dir-scoped
// rather than run inside a working directory.
func execGit(ctx context.Context, gitDir string, args ...string) ([]byte, error) {
	return runGit(ctx, gitDir, nil, args...)
}

func (s *Session) gitStdin(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	return runGit(ctx, s.gitDir, stdin, args...)
}

func runGit(ctx context.Context, gitDir string, stdin []byte, args ...string) ([]byte, error) {
	full := args
	if gitDir != "" {
		full = append([]string{"--git-dir", gitDir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
