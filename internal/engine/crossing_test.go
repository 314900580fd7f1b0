package engine

import "testing"

func TestTickFloor(t *testing.T) {
	cases := []struct {
		tick    int32
		spacing int32
		want    int32
	}{
		{0, 60, 0},
		{59, 60, 0},
		{60, 60, 60},
		{125, 60, 120},
		{-1, 60, -60},
		{-60, 60, -60},
		{-61, 60, -120},
		{7, 1, 7},
		{-887272, 60, -887280},
	}
	for _, tc := range cases {
		if got := TickFloor(tc.tick, tc.spacing); got != tc.want {
			t.Fatalf("TickFloor(%d, %d) = %d, want %d", tc.tick, tc.spacing, got, tc.want)
		}
	}
}

func TestCrossedTicksDown(t *testing.T) {
	lower, upper, crossed := CrossedTicks(120, 0, 60)
	if !crossed {
		t.Fatalf("expected crossing")
	}
	if lower != 60 || upper != 120 {
		t.Fatalf("range mismatch: [%d, %d]", lower, upper)
	}
}

func TestCrossedTicksUp(t *testing.T) {
	lower, upper, crossed := CrossedTicks(0, 180, 60)
	if !crossed {
		t.Fatalf("expected crossing")
	}
	if lower != 0 || upper != 120 {
		t.Fatalf("range mismatch: [%d, %d]", lower, upper)
	}
}

func TestCrossedTicksNone(t *testing.T) {
	if _, _, crossed := CrossedTicks(60, 60, 60); crossed {
		t.Fatalf("unexpected crossing for unchanged tick")
	}
}

func TestCrossedTicksSingleStep(t *testing.T) {
	lower, upper, crossed := CrossedTicks(60, 0, 60)
	if !crossed {
		t.Fatalf("expected crossing")
	}
	if lower != 60 || upper != 60 {
		t.Fatalf("range mismatch: [%d, %d]", lower, upper)
	}

	lower, upper, crossed = CrossedTicks(0, 60, 60)
	if !crossed {
		t.Fatalf("expected crossing")
	}
	if lower != 0 || upper != 0 {
		t.Fatalf("range mismatch: [%d, %d]", lower, upper)
	}
}
