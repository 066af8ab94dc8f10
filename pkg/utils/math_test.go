package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float64{3, 4}
	NormalizeL2(x)
	if math.Abs(x[0]-0.6) > 1e-12 || math.Abs(x[1]-0.8) > 1e-12 {
		t.Errorf("got %v", x)
	}
	if n := L2Norm(x); math.Abs(n-1) > 1e-12 {
		t.Errorf("norm after normalize = %v", n)
	}

	zero := []float64{0, 0, 0}
	NormalizeL2(zero)
	for _, v := range zero {
		if v != 0 {
			t.Errorf("zero vector changed: %v", zero)
		}
	}
}
