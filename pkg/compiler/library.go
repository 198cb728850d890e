package compiler

// LibrarySource is the default extension library: helpers for LED
// effect programs, written in the language and registered between the
// builtins and user code. Effects call these like any other function;
// unused ones cost nothing because lowering is on demand.
const LibrarySource = `
// clamp01 saturates to the displayable range.
float clamp01(float x) { return clamp(x, 0.0, 1.0); }
vec3 clamp01(vec3 v) { return clamp(v, 0.0, 1.0); }

// hsv2rgb converts hue/saturation/value (all 0..1) to RGB. The hue
// wraps, so sweeping h past 1.0 cycles cleanly.
vec3 hsv2rgb(vec3 hsv) {
	float h = fract(hsv.x) * 6.0;
	float s = clamp01(hsv.y);
	float v = clamp01(hsv.z);

	float c = v * s;
	float x = c * (1.0 - abs(mod(h, 2.0) - 1.0));
	float m = v - c;

	vec3 rgb = vec3(0.0);
	if (h < 1.0) {
		rgb = vec3(c, x, 0.0);
	} else if (h < 2.0) {
		rgb = vec3(x, c, 0.0);
	} else if (h < 3.0) {
		rgb = vec3(0.0, c, x);
	} else if (h < 4.0) {
		rgb = vec3(0.0, x, c);
	} else if (h < 5.0) {
		rgb = vec3(x, 0.0, c);
	} else {
		rgb = vec3(c, 0.0, x);
	}
	return rgb + vec3(m);
}

// wave is a 0..1 sine, one period per unit of t.
float wave(float t) {
	return 0.5 + 0.5 * sin(t * 6.2831853);
}

// triangle ramps 0 -> 1 -> 0 over one period.
float triangle(float t) {
	float p = fract(t);
	if (p < 0.5) { return p * 2.0; }
	return 2.0 - p * 2.0;
}

// square is 1 for the first half of each period, 0 for the second.
float square(float t) {
	if (fract(t) < 0.5) { return 1.0; }
	return 0.0;
}
`
