package copyengine

import "context"

// History is the history-tracking ("mergeinfo") algebra collaborator. Its
// merge/serialization rules are assumed correct and not re-derived by the
// dispatch core.
type History interface {
	// Parse decodes a serialized history-metadata string into ranges keyed
	// by path.
	Parse(s string) (map[string][]Range, error)
	// Merge unions two range sets keyed by path.
	Merge(a, b map[string][]Range) map[string][]Range
	// ToString serializes a range set back to canonical form.
	ToString(m map[string][]Range) string

	// ExplicitProp fetches the source's explicit history property at rev.
	ExplicitProp(ctx context.Context, ra RA, path string, rev int64) (map[string][]Range, error)
	// WCLocal fetches the source's local (uncommitted) history-metadata
	// property from the working copy, for the WC→R arm's three-way merge.
	WCLocal(ctx context.Context, wc WC, lock AdminLock, path string) (map[string][]Range, error)
}

// HistoryPropName is the node property the arms attach merged history
// metadata to.
const HistoryPropName = "vcs:mergeinfo"

// Range is an inclusive revision range merged into a node from a source
// path, the unit of history metadata.
type Range struct {
	StartRev int64
	EndRev   int64
}

// Calculator computes the combined history metadata to attach to a
// destination node.
type Calculator struct {
	RA      RA
	History History
}

// ComputeForCopy computes implied-history ∪ explicit-history for a source
// at rev. The result is not yet serialized; the caller decides whether to
// merge further (WC→R three-way) before serializing.
func (c *Calculator) ComputeForCopy(ctx context.Context, reposRelPath string, rev int64) (map[string][]Range, error) {
	implied, err := c.implied(ctx, reposRelPath, rev)
	if err != nil {
		return nil, err
	}

	explicit, err := c.History.ExplicitProp(ctx, c.RA, reposRelPath, rev)
	if err != nil {
		return nil, err
	}

	return c.History.Merge(implied, explicit), nil
}

// ComputeForWCToRepos additionally merges in the source's local
// (uncommitted) history-metadata property.
func (c *Calculator) ComputeForWCToRepos(ctx context.Context, reposRelPath string, rev int64, wc WC, lock AdminLock, wcPath string) (map[string][]Range, error) {
	base, err := c.ComputeForCopy(ctx, reposRelPath, rev)
	if err != nil {
		return nil, err
	}

	local, err := c.History.WCLocal(ctx, wc, lock, wcPath)
	if err != nil {
		return nil, err
	}

	return c.History.Merge(base, local), nil
}

// implied computes the single [oldest, rev] range.
// If OldestRevAtPath reports no history, implied is empty — not an
// error.
func (c *Calculator) implied(ctx context.Context, reposRelPath string, rev int64) (map[string][]Range, error) {
	oldest, ok, err := c.RA.OldestRevAtPath(ctx, reposRelPath, rev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string][]Range{}, nil
	}
	return map[string][]Range{reposRelPath: {{StartRev: oldest, EndRev: rev}}}, nil
}

// Serialize is a convenience wrapper for History.ToString, used by the arms
// after computing a Pair's merged history.
func Serialize(h History, m map[string][]Range) string {
	return h.ToString(m)
}
