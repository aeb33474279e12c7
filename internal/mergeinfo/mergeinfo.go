// Package mergeinfo is the production history-tracking ("mergeinfo")
// algebra collaborator: serialization, union-merge, and the two
// property-fetch hooks (ExplicitProp over RA, WCLocal over WC) the
// copy/move dispatch core's History calculator drives.
package mergeinfo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/copycore/vcscopy/internal/copyengine"
)

// Calculator implements copyengine.History with a canonical
// "path:start-end,start-end;path:..." serialization, ranges sorted and
// coalesced per path so ToString(Parse(s)) is idempotent.
type Calculator struct{}

func (Calculator) Parse(s string) (map[string][]copyengine.Range, error) {
	out := map[string][]copyengine.Range{}
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("mergeinfo: malformed entry %q", entry)
		}
		path := parts[0]
		for _, rangeStr := range strings.Split(parts[1], ",") {
			if rangeStr == "" {
				continue
			}
			r, err := parseRange(rangeStr)
			if err != nil {
				return nil, fmt.Errorf("mergeinfo: %s: %w", path, err)
			}
			out[path] = append(out[path], r)
		}
	}
	return coalesceAll(out), nil
}

func parseRange(s string) (copyengine.Range, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return copyengine.Range{}, err
		}
		return copyengine.Range{StartRev: n, EndRev: n}, nil
	}
	start, err := strconv.ParseInt(s[:dash], 10, 64)
	if err != nil {
		return copyengine.Range{}, err
	}
	end, err := strconv.ParseInt(s[dash+1:], 10, 64)
	if err != nil {
		return copyengine.Range{}, err
	}
	return copyengine.Range{StartRev: start, EndRev: end}, nil
}

func (Calculator) Merge(a, b map[string][]copyengine.Range) map[string][]copyengine.Range {
	out := map[string][]copyengine.Range{}
	for path, ranges := range a {
		out[path] = append(out[path], ranges...)
	}
	for path, ranges := range b {
		out[path] = append(out[path], ranges...)
	}
	return coalesceAll(out)
}

func (Calculator) ToString(m map[string][]copyengine.Range) string {
	m = coalesceAll(m)
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(p)
		b.WriteByte(':')
		for j, r := range m[p] {
			if j > 0 {
				b.WriteByte(',')
			}
			if r.StartRev == r.EndRev {
				fmt.Fprintf(&b, "%d", r.StartRev)
			} else {
				fmt.Fprintf(&b, "%d-%d", r.StartRev, r.EndRev)
			}
		}
	}
	return b.String()
}

// ExplicitProp fetches path's serialized history property at rev through
// the RA collaborator's GetFile, which returns node properties generically
// regardless of backend.
func (c Calculator) ExplicitProp(ctx context.Context, ra copyengine.RA, path string, rev int64) (map[string][]copyengine.Range, error) {
	_, props, _, err := ra.GetFile(ctx, path, rev)
	if err != nil {
		// A directory source (or one with no content to fetch) yields no
		// explicit property rather than an error; callers already treat a
		// missing property as "no explicit history".
		return map[string][]copyengine.Range{}, nil
	}
	return c.Parse(props[copyengine.HistoryPropName])
}

// propReader is satisfied by working-copy implementations (internal/wc/localwc.WC)
// that can read back an uncommitted history-property extension; WCLocal
// degrades to "no local history" for WC collaborators that don't implement
// it.
type propReader interface {
	HistoryProp(ctx context.Context, path string) (string, bool, error)
}

func (c Calculator) WCLocal(ctx context.Context, wc copyengine.WC, _ copyengine.AdminLock, path string) (map[string][]copyengine.Range, error) {
	pr, ok := wc.(propReader)
	if !ok {
		return map[string][]copyengine.Range{}, nil
	}
	s, ok, err := pr.HistoryProp(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string][]copyengine.Range{}, nil
	}
	return c.Parse(s)
}

// coalesceAll sorts and merges overlapping/adjacent ranges per path so the
// canonical form never carries redundant entries.
func coalesceAll(m map[string][]copyengine.Range) map[string][]copyengine.Range {
	out := make(map[string][]copyengine.Range, len(m))
	for path, ranges := range m {
		out[path] = coalesce(ranges)
	}
	return out
}

func coalesce(ranges []copyengine.Range) []copyengine.Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]copyengine.Range(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartRev != sorted[j].StartRev {
			return sorted[i].StartRev < sorted[j].StartRev
		}
		return sorted[i].EndRev < sorted[j].EndRev
	})
	out := []copyengine.Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.StartRev <= last.EndRev+1 {
			if r.EndRev > last.EndRev {
				last.EndRev = r.EndRev
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
