package copyengine

import (
	"context"
	"path"
	"sort"

	"github.com/copycore/vcscopy/internal/copyengine/revision"
)

// Arm identifies one of the four transport combinations.
type Arm int

const (
	ArmWCtoWC Arm = iota
	ArmWCtoR
	ArmRtoWC
	ArmRtoR
)

func (a Arm) String() string {
	switch a {
	case ArmWCtoWC:
		return "WC->WC"
	case ArmWCtoR:
		return "WC->R"
	case ArmRtoWC:
		return "R->WC"
	case ArmRtoR:
		return "R->R"
	default:
		return "unknown"
	}
}

// BuildPairs normalizes a Request into a vector of Pairs and the arm that
// must process them. Dispatch to the arm and the copy-as-child retry live
// in Copy/Move (dispatch.go).
func BuildPairs(ctx context.Context, req Request, wc WC) ([]*Pair, Arm, error) {
	if len(req.Sources) == 0 {
		return nil, 0, newErr(CodeUnknownKind, "", "no sources given")
	}

	// Step 1: classify sides.
	srcsAreURLs := isURL(req.Sources[0].Path)
	for i, s := range req.Sources[1:] {
		if isURL(s.Path) != srcsAreURLs {
			return nil, 0, newErr(CodeUnsupportedFeature, s.Path,
				"source %d has a different side than the first source", i+1)
		}
	}
	dstIsURL := isURL(req.Dst)

	// Step 2: URL sources can't use a WC-only peg revision.
	if srcsAreURLs {
		for _, s := range req.Sources {
			if s.Peg.Kind == revisionBase || s.Peg.Kind == revisionCommitted || s.Peg.Kind == revisionPrevious {
				return nil, 0, newErr(CodeBadRevision, s.Path,
					"%s revision requires a working copy", s.Peg.Kind)
			}
		}
	}

	// Step 3: multiple-source destination join / MULTIPLE_SOURCES_DISALLOWED.
	if len(req.Sources) > 1 && !req.CopyAsChild {
		return nil, 0, newErr(CodeMultipleSourcesDisallowed, req.Dst,
			"multiple sources given without copy-as-child")
	}

	pairs := make([]*Pair, 0, len(req.Sources))
	for _, s := range req.Sources {
		side := SideLocal
		if srcsAreURLs {
			side = SideURL
		}
		p := newPair(s.Path, side)
		p.SrcPeg = s.Peg
		p.SrcOp = s.Op

		// Step 4: resolve unspecified pegs.
		if p.SrcPeg.Unspecified() {
			if srcsAreURLs {
				p.SrcPeg = headRevision()
			} else {
				p.SrcPeg = workingRevision()
			}
		}
		if p.SrcOp.Unspecified() {
			p.SrcOp = p.SrcPeg
		}

		dst := req.Dst
		if len(req.Sources) > 1 {
			dst = path.Join(req.Dst, basename(s.Path))
		}
		p.Dst = dst
		p.DstSide = SideLocal
		if dstIsURL {
			p.DstSide = SideURL
		}
		p.DstParent = dirname(dst)
		p.BaseName = basename(dst)

		pairs = append(pairs, p)
	}

	// When every source is a `^/tags/...`-style URL naming a semantic-
	// version tag, order the pairs by tag version rather than by argument
	// order, so a multi-source copy-as-child's resulting commit item list
	// (and any later resurrection/ordering logic) doesn't depend on the
	// order the caller happened to list tags in.
	if srcsAreURLs && len(pairs) > 1 {
		sortPairsBySemverTag(pairs)
	}

	// Step 7: promote local sources with a non-default op revision to URLs.
	if !srcsAreURLs {
		for _, p := range pairs {
			if p.SrcOp.Kind == revisionUnspecified || p.SrcOp.Kind == revisionWorking {
				continue
			}
			entry, err := wc.Entry(ctx, p.Src)
			if err != nil {
				return nil, 0, wrapErr(CodeMissingURL, p.Src, err, "failed to read working-copy entry")
			}
			if entry.URL == "" {
				return nil, 0, newErr(CodeMissingURL, p.Src, "entry has no URL")
			}
			p.Src = entry.URL
			p.SrcOriginal = p.Src
			p.SrcSide = SideURL
			srcsAreURLs = true
		}
	}

	// Step 5 (and scenario 6's ordering guarantee): for any WC-sided copy or
	// move, reject a source that is a prefix of its own destination — this
	// check runs before the move-specific self-move check in step 6.
	if !srcsAreURLs && !dstIsURL {
		for _, p := range pairs {
			if IsPrefix(p.Src, p.Dst) {
				return nil, 0, newErr(CodeUnsupportedFeature, p.Dst,
					"cannot copy path '%s' into its own child '%s'", p.Src, p.Dst)
			}
		}
	}

	// Step 6: move-specific rejections.
	if req.IsMove {
		if srcsAreURLs != dstIsURL {
			return nil, 0, newErr(CodeUnsupportedFeature, req.Dst, "cannot move across sides")
		}
		for _, p := range pairs {
			if p.Src == p.Dst {
				return nil, 0, newErr(CodeUnsupportedFeature, p.Dst, "source and destination are the same")
			}
		}
	}

	arm := classifyArm(srcsAreURLs, dstIsURL)
	return pairs, arm, nil
}

func classifyArm(srcsAreURLs, dstIsURL bool) Arm {
	switch {
	case !srcsAreURLs && !dstIsURL:
		return ArmWCtoWC
	case !srcsAreURLs && dstIsURL:
		return ArmWCtoR
	case srcsAreURLs && !dstIsURL:
		return ArmRtoWC
	default:
		return ArmRtoR
	}
}

// sortPairsBySemverTag reorders pairs whose source basename parses as a
// semantic-version tag (e.g. the "v1.2.3" in `^/tags/v1.2.3`) into ascending
// version order, leaving relative order alone when any source isn't
// tag-shaped.
func sortPairsBySemverTag(pairs []*Pair) {
	for _, p := range pairs {
		if !revision.LooksLikeSemver(basename(p.Src)) {
			return
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return revision.CompareSemverTags(basename(pairs[i].Src), basename(pairs[j].Src)) < 0
	})
}

func basename(p string) string {
	comps := splitComponents(p)
	if len(comps) == 0 {
		return ""
	}
	return comps[len(comps)-1]
}
