package copyengine

import (
	"context"
	"testing"

)

func noSleepDeps(wc *FakeWC) Deps {
	return Deps{WC: wc, Sleep: func() {}}
}

func TestWCtoWCCopy(t *testing.T) {
	wc := NewFakeWC("repo://h")
	wc.Seed("/wc/a", KindFile, "", 0)
	wc.Seed("/wc/b", KindDirectory, "", 0)

	req := Request{Sources: []Source{{Path: "/wc/a"}}, Dst: "/wc/b/a"}
	pairs, arm, err := BuildPairs(context.Background(), req, wc)
	if err != nil {
		t.Fatalf("BuildPairs: %v", err)
	}
	if arm != ArmWCtoWC {
		t.Fatalf("arm = %v, want ArmWCtoWC", arm)
	}

	info, err := runWCtoWC(context.Background(), pairs, false, noSleepDeps(wc), nil)
	if err != nil {
		t.Fatalf("runWCtoWC: %v", err)
	}
	if info != nil {
		t.Errorf("commit_info = %v, want nil (WC→WC never commits)", info)
	}

	if kind, _ := wc.Exists(context.Background(), "/wc/b/a"); kind != KindFile {
		t.Errorf("destination kind = %v, want KindFile", kind)
	}
	if kind, _ := wc.Exists(context.Background(), "/wc/a"); kind != KindFile {
		t.Errorf("source should still exist after copy, got kind %v", kind)
	}
}

// TestWCtoWCMultiCopyAsChild: two sources copied as children of a directory
// destination in one call.
func TestWCtoWCMultiCopyAsChild(t *testing.T) {
	wc := NewFakeWC("repo://h")
	wc.Seed("/wc/a/x", KindFile, "", 0)
	wc.Seed("/wc/a/y", KindFile, "", 0)
	wc.Seed("/wc/b", KindDirectory, "", 0)

	req := Request{
		Sources:     []Source{{Path: "/wc/a/x"}, {Path: "/wc/a/y"}},
		Dst:         "/wc/b",
		CopyAsChild: true,
	}
	pairs, arm, err := BuildPairs(context.Background(), req, wc)
	if err != nil {
		t.Fatalf("BuildPairs: %v", err)
	}
	if arm != ArmWCtoWC {
		t.Fatalf("arm = %v, want ArmWCtoWC", arm)
	}

	info, err := runWCtoWC(context.Background(), pairs, false, noSleepDeps(wc), nil)
	if err != nil {
		t.Fatalf("runWCtoWC: %v", err)
	}
	if info != nil {
		t.Errorf("commit_info = %v, want nil (WC→WC never commits)", info)
	}

	if kind, _ := wc.Exists(context.Background(), "/wc/b/x"); kind != KindFile {
		t.Errorf("b/x kind = %v, want KindFile", kind)
	}
	if kind, _ := wc.Exists(context.Background(), "/wc/b/y"); kind != KindFile {
		t.Errorf("b/y kind = %v, want KindFile", kind)
	}
}

func TestWCtoWCCopyRejectsExistingDestination(t *testing.T) {
	wc := NewFakeWC("repo://h")
	wc.Seed("/wc/a", KindFile, "", 0)
	wc.Seed("/wc/b", KindFile, "", 0)

	req := Request{Sources: []Source{{Path: "/wc/a"}}, Dst: "/wc/b"}
	pairs, _, err := BuildPairs(context.Background(), req, wc)
	if err != nil {
		t.Fatalf("BuildPairs: %v", err)
	}
	_, err = runWCtoWC(context.Background(), pairs, false, noSleepDeps(wc), nil)
	if err == nil {
		t.Fatal("expected ENTRY_EXISTS error")
	}
}

func TestWCtoWCMoveDeletesSource(t *testing.T) {
	wc := NewFakeWC("repo://h")
	wc.Seed("/wc/a", KindFile, "", 0)

	req := Request{Sources: []Source{{Path: "/wc/a"}}, Dst: "/wc/moved", IsMove: true}
	pairs, _, err := BuildPairs(context.Background(), req, wc)
	if err != nil {
		t.Fatalf("BuildPairs: %v", err)
	}
	if _, err := runWCtoWC(context.Background(), pairs, true, noSleepDeps(wc), nil); err != nil {
		t.Fatalf("runWCtoWC: %v", err)
	}

	if kind, _ := wc.Exists(context.Background(), "/wc/moved"); kind != KindFile {
		t.Errorf("destination kind = %v, want KindFile", kind)
	}
	if kind, _ := wc.Exists(context.Background(), "/wc/a"); kind != KindNone {
		t.Errorf("source kind = %v, want KindNone after move", kind)
	}
}
