package copyengine

import (
	"context"
	"testing"

)

func TestCalculatorComputeForCopy(t *testing.T) {
	repo := NewFakeRepo("repo://h", "uuid-1")
	repo.PutFile("trunk/file.txt", []byte("hi"), 0) // committed at rev 1, oldest = 1

	ra := NewFakeRA(repo)
	if _, err := ra.Open(context.Background(), repo.Root); err != nil {
		t.Fatalf("Open: %v", err)
	}

	calc := &Calculator{RA: ra, History: FakeHistory{}}
	ranges, err := calc.ComputeForCopy(context.Background(), "trunk/file.txt", 1)
	if err != nil {
		t.Fatalf("ComputeForCopy: %v", err)
	}
	got, ok := ranges["trunk/file.txt"]
	if !ok || len(got) != 1 {
		t.Fatalf("ranges[trunk/file.txt] = %v, want one range", ranges)
	}
	if got[0].StartRev != 1 || got[0].EndRev != 1 {
		t.Errorf("range = %+v, want {1 1}", got[0])
	}
}

func TestCalculatorComputeForCopyNoImpliedHistory(t *testing.T) {
	repo := NewFakeRepo("repo://h", "uuid-1")
	// Directories have no OldestAt entry recorded by the fake repo.
	repo.PutFile("trunk/dir/file.txt", []byte("hi"), 0)

	ra := NewFakeRA(repo)
	if _, err := ra.Open(context.Background(), repo.Root); err != nil {
		t.Fatalf("Open: %v", err)
	}

	calc := &Calculator{RA: ra, History: FakeHistory{}}
	ranges, err := calc.ComputeForCopy(context.Background(), "trunk/dir", 1)
	if err != nil {
		t.Fatalf("ComputeForCopy: %v", err)
	}
	if len(ranges) != 0 {
		t.Errorf("ranges = %v, want empty (no implied history for an untracked dir)", ranges)
	}
}

func TestFakeHistoryMergeAndRoundTrip(t *testing.T) {
	h := FakeHistory{}
	a := map[string][]Range{"trunk": {{StartRev: 1, EndRev: 3}}}
	b := map[string][]Range{"branches/x": {{StartRev: 5, EndRev: 7}}}

	merged := h.Merge(a, b)
	s := h.ToString(merged)

	back, err := h.Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(back["trunk"]) != 1 || back["trunk"][0] != (Range{StartRev: 1, EndRev: 3}) {
		t.Errorf("round-tripped trunk range = %v", back["trunk"])
	}
	if len(back["branches/x"]) != 1 || back["branches/x"][0] != (Range{StartRev: 5, EndRev: 7}) {
		t.Errorf("round-tripped branches/x range = %v", back["branches/x"])
	}
}

func TestSerialize(t *testing.T) {
	h := FakeHistory{}
	m := map[string][]Range{"trunk": {{StartRev: 2, EndRev: 4}}}
	if got, want := Serialize(h, m), "trunk:2-4"; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}
