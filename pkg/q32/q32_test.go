package q32

import (
	"math"
	"testing"
)

func TestTruncWraps(t *testing.T) {
	tests := []struct {
		in   float64
		want uint32
	}{
		{-3.2, 4294967293}, // -3 wrapped, never clamped to 0
		{-1.0, 4294967295},
		{7.8, 7},
		{0.0, 0},
		{0.99, 0},
		{-0.99, 0},
	}
	for _, tt := range tests {
		got := uint32(Trunc(FromFloat(tt.in)))
		if got != tt.want {
			t.Errorf("Trunc(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFloorCeilFract(t *testing.T) {
	tests := []struct {
		in           float64
		floor, fract float64
	}{
		{2.75, 2.0, 0.75},
		{-2.75, -3.0, 0.25},
		{5.0, 5.0, 0.0},
	}
	for _, tt := range tests {
		x := FromFloat(tt.in)
		if got := Float(Floor(x)); got != tt.floor {
			t.Errorf("Floor(%v) = %v, want %v", tt.in, got, tt.floor)
		}
		if got := Float(Fract(x)); math.Abs(got-tt.fract) > 1e-4 {
			t.Errorf("Fract(%v) = %v, want %v", tt.in, got, tt.fract)
		}
	}
	if got := Float(Ceil(FromFloat(2.25))); got != 3.0 {
		t.Errorf("Ceil(2.25) = %v, want 3", got)
	}
}

func TestMulDiv(t *testing.T) {
	a := FromFloat(3.5)
	b := FromFloat(-2.0)
	if got := Float(Mul(a, b)); math.Abs(got+7.0) > 1e-3 {
		t.Errorf("3.5 * -2.0 = %v", got)
	}
	if got := Float(Div(a, b)); math.Abs(got+1.75) > 1e-3 {
		t.Errorf("3.5 / -2.0 = %v", got)
	}
	if got := Div(a, 0); got != 0 {
		t.Errorf("division by zero = %d, want 0", got)
	}
}

func TestSqrt(t *testing.T) {
	for _, v := range []float64{0.25, 1.0, 2.0, 9.0, 100.0, 0.0} {
		got := Float(Sqrt(FromFloat(v)))
		want := math.Sqrt(v)
		if math.Abs(got-want) > 0.001*(want+1) {
			t.Errorf("Sqrt(%v) = %v, want %v", v, got, want)
		}
	}
	if got := Sqrt(FromFloat(-4.0)); got != 0 {
		t.Errorf("Sqrt(-4) = %d, want 0", got)
	}
}

func TestSinCosTolerance(t *testing.T) {
	if got := Sin(0); got != 0 {
		t.Fatalf("Sin(0) = %d, must be exactly 0", got)
	}
	if got := Float(Sin(HalfPi)); math.Abs(got-1.0) > 0.03 {
		t.Errorf("Sin(pi/2) = %v, want 1 within 3%%", got)
	}
	if got := Float(Cos(Pi)); math.Abs(got+1.0) > 0.03 {
		t.Errorf("Cos(pi) = %v, want -1 within 3%%", got)
	}
	// Sweep a few periods; 3% absolute tolerance everywhere.
	for d := -720; d <= 720; d += 7 {
		rad := float64(d) * math.Pi / 180
		x := FromFloat(rad)
		if got := Float(Sin(x)); math.Abs(got-math.Sin(rad)) > 0.03 {
			t.Errorf("Sin(%d deg) = %v, want %v", d, got, math.Sin(rad))
		}
		if got := Float(Cos(x)); math.Abs(got-math.Cos(rad)) > 0.03 {
			t.Errorf("Cos(%d deg) = %v, want %v", d, got, math.Cos(rad))
		}
	}
}

func TestPow(t *testing.T) {
	tests := []struct {
		x, y float64
	}{
		{2.0, 3.0},
		{4.0, 0.5},
		{1.0, 7.0},
		{0.5, 2.0},
		{3.0, 1.5},
	}
	for _, tt := range tests {
		got := Float(Pow(FromFloat(tt.x), FromFloat(tt.y)))
		want := math.Pow(tt.x, tt.y)
		if math.Abs(got-want) > 0.03*want+0.01 {
			t.Errorf("Pow(%v, %v) = %v, want %v", tt.x, tt.y, got, want)
		}
	}
	if got := Pow(FromFloat(-2.0), One); got != 0 {
		t.Errorf("Pow(-2, 1) = %d, want 0", got)
	}
}

func TestMinMaxAbs(t *testing.T) {
	a, b := FromFloat(-1.5), FromFloat(0.5)
	if Min(a, b) != a || Max(a, b) != b {
		t.Error("Min/Max ordering wrong")
	}
	if Abs(a) != FromFloat(1.5) {
		t.Error("Abs(-1.5) wrong")
	}
}
