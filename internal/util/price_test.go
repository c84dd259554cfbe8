package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		x, tick, want float64
	}{
		{1.2345, 0.01, 1.23},
		{1.2351, 0.01, 1.24},
		{100.37, 0.05, 100.35},
		{1.5, 0, 1.5},
		{2.0, -0.01, 2.0},
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
		}
	}
}

func TestSpreadRatio(t *testing.T) {
	if got := SpreadRatio(1.90, 2.10); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("SpreadRatio = %v, want 0.1", got)
	}
	if got := SpreadRatio(0, 0); !math.IsInf(got, 1) {
		t.Errorf("SpreadRatio on zero quote = %v, want +Inf", got)
	}
	if got := SpreadRatio(-2, 1); !math.IsInf(got, 1) {
		t.Errorf("SpreadRatio on negative mid = %v, want +Inf", got)
	}
}
