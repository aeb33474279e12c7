package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/copycore/vcscopy/internal/copyengine"
	"github.com/copycore/vcscopy/internal/copyengine/revision"
	"github.com/copycore/vcscopy/internal/mergeinfo"
	"github.com/copycore/vcscopy/internal/ra"
	"github.com/copycore/vcscopy/internal/wc/localwc"
)

// opArgs are the flags shared by the copy and move subcommands.
type opArgs struct {
	pegRev     string
	opRev      string
	asChild    bool
	message    string
	authorName string
}

// buildRequest turns CLI positional args (sources... dst) and flags into a
// copyengine.Request, applying the same peg/op revision string to every
// source the way `svn cp -r N src... dst` does.
func buildRequest(args []string, a opArgs, isMove bool) (copyengine.Request, error) {
	if len(args) < 2 {
		return copyengine.Request{}, fmt.Errorf("need at least one source and a destination")
	}
	srcPaths, dst := args[:len(args)-1], args[len(args)-1]

	peg, err := revision.Parse(a.pegRev)
	if err != nil {
		return copyengine.Request{}, err
	}
	op, err := revision.Parse(a.opRev)
	if err != nil {
		return copyengine.Request{}, err
	}

	sources := make([]copyengine.Source, len(srcPaths))
	for i, p := range srcPaths {
		sources[i] = copyengine.Source{Path: p, Peg: peg, Op: op}
	}

	return copyengine.Request{
		Sources:     sources,
		Dst:         dst,
		IsMove:      isMove,
		CopyAsChild: a.asChild,
	}, nil
}

// runOp wires a fresh localwc.WC rooted at the current directory, a
// gitra-backed RA session factory for whichever side of the request is
// URL-shaped, the production mergeinfo.Calculator, and ra.PathDriver, then
// drives copyengine.Copy or copyengine.Move to completion.
func runOp(cmd string, args []string, a opArgs, isMove bool) error {
	ctx := context.Background()

	cfg, logger, notify, cleanup, err := loadRuntime(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	req, err := buildRequest(args, a, isMove)
	if err != nil {
		return err
	}

	wc, err := localwc.Open(".")
	if err != nil {
		return fmt.Errorf("open working copy: %w", err)
	}
	defer wc.Close()

	raURL := req.Dst
	for _, s := range req.Sources {
		if looksLikeURL(s.Path) {
			raURL = s.Path
			break
		}
	}
	if !looksLikeURL(raURL) && cfg.RepoURL != "" {
		raURL = cfg.RepoURL
	}

	var raFactory func() copyengine.RA
	if looksLikeURL(raURL) {
		raFactory, err = ra.Factory(raURL)
		if err != nil {
			return err
		}
	} else {
		// Pure WC->WC request: no RA session is ever opened, but Deps
		// still needs a non-nil factory field to satisfy callers that
		// probe it defensively.
		raFactory = func() copyengine.RA { return nil }
	}

	deps := copyengine.Deps{
		RAFactory:  raFactory,
		WC:         wc,
		History:    mergeinfo.Calculator{},
		PathDriver: ra.PathDriver{},
	}

	opID := fmt.Sprintf("%s-%d", cmd, len(args))
	cctx := &copyengine.Ctx{
		LogMessage: func(items []copyengine.LogItem) (*string, error) {
			msg := a.message
			return &msg, nil
		},
	}
	progress := isInteractive()
	if notify != nil || progress {
		var broadcast func(copyengine.Notification)
		if notify != nil {
			broadcast = notify.NotifyFunc(opID)
		}
		cctx.Notify = func(n copyengine.Notification) {
			if broadcast != nil {
				broadcast(n)
			}
			if progress {
				fmt.Print(".")
			}
		}
	}
	if a.authorName != "" || cfg.AuthorName != "" {
		author := a.authorName
		if author == "" {
			author = cfg.AuthorName
		}
		cctx.RevpropTable = func() (map[string]string, error) {
			return map[string]string{"vcs:author": author}, nil
		}
	}

	logger.Info("dispatching", "cmd", cmd, "sources", len(req.Sources), "dst", req.Dst)

	var infos []copyengine.CommitInfo
	if isMove {
		infos, err = copyengine.Move(ctx, req, deps, cctx)
	} else {
		infos, err = copyengine.Copy(ctx, req, deps, cctx)
	}
	if progress {
		fmt.Println()
	}
	if err != nil {
		logger.Error("dispatch failed", "err", err)
		return err
	}
	for _, info := range infos {
		fmt.Printf("committed r%d\n", info.Revision)
	}
	return nil
}

// looksLikeURL mirrors copyengine's own (unexported) isURL check, just
// enough for the CLI to decide which side needs an RA session factory.
func looksLikeURL(s string) bool {
	return strings.Contains(s, "://")
}
