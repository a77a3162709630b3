package tuner

import "testing"

func TestGainTableR820T(t *testing.T) {
	table := GainTable(R820T)
	if len(table) != 29 {
		t.Fatalf("expected 29 gain entries for R820T, got %d", len(table))
	}
	if table[0] != 0 || table[len(table)-1] != 496 {
		t.Fatalf("unexpected gain table bounds: %v", table)
	}
}

func TestNearestGainIndex(t *testing.T) {
	cases := []struct {
		requested int
		wantValue int
	}{
		{0, 0},
		{-100, 0},
		{500, 496},
		{200, 197},
		{203, 207},
	}
	for _, c := range cases {
		idx := NearestGainIndex(R820T, c.requested)
		got := GainTable(R820T)[idx]
		if got != c.wantValue {
			t.Errorf("NearestGainIndex(%d) = table value %d, want %d", c.requested, got, c.wantValue)
		}
	}
}

func TestSupportsOffsetTuning(t *testing.T) {
	if SupportsOffsetTuning(R820T) {
		t.Error("R820T should not support offset tuning")
	}
	if SupportsOffsetTuning(R828D) {
		t.Error("R828D should not support offset tuning")
	}
	if !SupportsOffsetTuning(E4000) {
		t.Error("E4000 should support offset tuning")
	}
}

func TestSupportsIFGainStage(t *testing.T) {
	if !SupportsIFGainStage(E4000) {
		t.Error("E4000 should support IF gain stage")
	}
	if SupportsIFGainStage(R820T) {
		t.Error("R820T should not support IF gain stage")
	}
}

func TestParse(t *testing.T) {
	if Parse("r820t") != R820T {
		t.Error("expected lowercase name to parse")
	}
	if Parse(" E4000 ") != E4000 {
		t.Error("expected padded name to parse")
	}
	if Parse("XYZ") != Unknown {
		t.Error("expected unknown name to map to Unknown")
	}
}

func TestDescriptorString(t *testing.T) {
	if R820T.String() != "R820T" {
		t.Errorf("got %q", R820T.String())
	}
	if Descriptor(99).String() != "UNKNOWN" {
		t.Errorf("got %q", Descriptor(99).String())
	}
}
