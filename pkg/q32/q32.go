// Package q32 implements 16.16 signed fixed-point arithmetic.
//
// Every "float" value in a compiled shader is a Q32: a raw int32 holding
// value*65536. All operations wrap on overflow rather than saturating or
// trapping; they sit on the per-pixel hot path and must stay branch-light.
// Both execution backends call into this package, so host and embedded
// results are bit-identical.
package q32

// One is the Q32 representation of 1.0.
const One int32 = 1 << 16

// Fixed-point representations of pi, pi/2 and 2*pi (round(x * 65536)).
const (
	Pi     int32 = 205887
	HalfPi int32 = 102944
	TwoPi  int32 = 411775
)

// FromFloat converts a float64 to Q32, wrapping out-of-range magnitudes.
func FromFloat(f float64) int32 {
	return int32(int64(f * 65536))
}

// Float converts a Q32 back to float64. Used at API boundaries and in
// tests only; compiled code never touches host floating point.
func Float(x int32) float64 {
	return float64(x) / 65536
}

// FromInt converts an integer to Q32. Values outside [-32768, 32767]
// wrap, which matches the non-saturating contract of the whole package.
func FromInt(i int32) int32 {
	return i << 16
}

// Trunc converts a Q32 to an integer, truncating the fraction toward
// zero. The result is the raw two's-complement word: reinterpreting it
// as uint32 gives the wrapping float->uint conversion, so
// Trunc(FromFloat(-3.2)) == -3, i.e. 4294967293 as a uint32.
func Trunc(x int32) int32 {
	if x < 0 {
		return -((-x) >> 16)
	}
	return x >> 16
}

// Floor returns the Q32 floor of x as a Q32 (fraction bits cleared).
func Floor(x int32) int32 {
	return x &^ 0xFFFF
}

// Ceil returns the Q32 ceiling of x as a Q32.
func Ceil(x int32) int32 {
	return -Floor(-x)
}

// Fract returns x - Floor(x), always in [0, 1).
func Fract(x int32) int32 {
	return x & 0xFFFF
}

// Abs returns the absolute value of x.
func Abs(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

// Min returns the smaller of a and b.
func Min(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// Mul multiplies two Q32 values. The intermediate product is 64-bit;
// the final narrowing wraps.
func Mul(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> 16)
}

// Div divides a by b. Division by zero yields zero: the shader runtime
// has no trap path, and zero is the least surprising pixel to emit.
func Div(a, b int32) int32 {
	if b == 0 {
		return 0
	}
	return int32((int64(a) << 16) / int64(b))
}

// Sqrt returns the square root of x, or zero for negative x.
func Sqrt(x int32) int32 {
	if x <= 0 {
		return 0
	}
	// Integer square root of x<<16, one result bit per iteration.
	v := uint64(x) << 16
	var res uint64
	bit := uint64(1) << 46
	for bit > v {
		bit >>= 2
	}
	for bit != 0 {
		if v >= res+bit {
			v -= res + bit
			res = (res >> 1) + bit
		} else {
			res >>= 1
		}
		bit >>= 2
	}
	return int32(res)
}

// reduce maps x into [-pi/2, pi/2] and reports whether the sine of the
// reduced angle must be negated. sin is odd and sin(pi - x) == sin(x),
// so folding the period this way keeps the polynomial on its sweet spot.
func reduce(x int32) int32 {
	// Wrap into [-pi, pi).
	r := (x + Pi) % TwoPi
	if r < 0 {
		r += TwoPi
	}
	r -= Pi
	// Fold the outer quadrants back onto the inner ones.
	if r > HalfPi {
		r = Pi - r
	} else if r < -HalfPi {
		r = -Pi - r
	}
	return r
}

// Sin returns sin(x) for x in radians.
//
// Range reduction into [-pi/2, pi/2] followed by the degree-7 Taylor
// polynomial x - x^3/6 + x^5/120 - x^7/5040, evaluated entirely in Q32.
// Worst-case error over the reduced range is well inside the 2-3%
// budget the engine tolerates, and Sin(0) is exactly 0 because every
// term carries a factor of x.
func Sin(x int32) int32 {
	r := reduce(x)
	r2 := Mul(r, r)
	// Horner form: r * (1 - r2/6 * (1 - r2/20 * (1 - r2/42)))
	t := One - Mul(r2, One/42)
	t = One - Mul(Mul(r2, One/20), t)
	t = One - Mul(Mul(r2, One/6), t)
	return Mul(r, t)
}

// Cos returns cos(x) for x in radians, via cos(x) == sin(x + pi/2).
func Cos(x int32) int32 {
	return Sin(x + HalfPi)
}

// log2 returns log2(x) in Q32 for x > 0, using the classic shift-and-
// square algorithm: one fraction bit per squaring step.
func log2(x int32) int32 {
	if x <= 0 {
		return 0
	}
	var ip int32
	v := x
	for v >= 2*One {
		v >>= 1
		ip++
	}
	for v < One {
		v <<= 1
		ip--
	}
	// v is now in [1, 2). Extract 16 fraction bits.
	var frac int32
	for i := 0; i < 16; i++ {
		v = Mul(v, v)
		frac <<= 1
		if v >= 2*One {
			v >>= 1
			frac |= 1
		}
	}
	return ip*One + frac
}

// exp2 returns 2^x in Q32, splitting into integer shift and a cubic
// polynomial on the fractional part.
func exp2(x int32) int32 {
	ip := x >> 16
	f := x & 0xFFFF
	if ip <= -32 {
		return 0
	}
	if ip >= 15 {
		// Out of Q32 range; wrap like every other primitive.
		ip %= 32
	}
	// 2^f ~= 1 + f*(0.69315 + f*(0.24023 + f*0.05561))
	const c1, c2, c3 = 45426, 15743, 3645
	p := One + Mul(f, c1+Mul(f, c2+Mul(f, c3)))
	if ip >= 0 {
		return p << uint(ip)
	}
	return p >> uint(-ip)
}

// Pow returns x^y for x > 0, zero for x <= 0 (matching GLSL's
// undefined-means-zero behavior on this runtime).
func Pow(x, y int32) int32 {
	if x <= 0 {
		return 0
	}
	return exp2(Mul(y, log2(x)))
}
