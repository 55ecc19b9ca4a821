package shader

const header = `// Generated by petal. Do not edit.

struct Params {
    width: u32,
    height: u32,
    src_width: u32,
    src_height: u32,
}

const ALPHA_STRAIGHT: u32 = 0u;
const ALPHA_PREMULTIPLIED: u32 = 1u;
const ALPHA_OPAQUE: u32 = 2u;

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> u: array<f32>;
`

const alphaHelpers = `fn quantize4(v: vec4<f32>) -> vec4<f32> {
    return vec4<f32>(quantize(v.r), quantize(v.g), quantize(v.b), quantize(v.a));
}

fn decode(s: vec4<f32>, alpha: u32) -> vec4<f32> {
    if alpha == ALPHA_PREMULTIPLIED {
        if s.a <= 0.0 {
            return vec4<f32>(0.0);
        }
        return vec4<f32>(s.rgb / s.a, s.a);
    }
    if alpha == ALPHA_OPAQUE {
        return vec4<f32>(s.rgb, 1.0);
    }
    return s;
}

fn premul(c: vec4<f32>) -> vec4<f32> {
    return vec4<f32>(c.rgb * c.a, c.a);
}

fn unpremul(p: vec4<f32>) -> vec4<f32> {
    if p.a <= 0.0 {
        return vec4<f32>(0.0);
    }
    return vec4<f32>(p.rgb / p.a, p.a);
}

fn clamp01(c: vec4<f32>) -> vec4<f32> {
    return clamp(c, vec4<f32>(0.0), vec4<f32>(1.0));
}

fn offset(stage: u32) -> u32 {
    return u32(u[stage]);
}

`

// pointStages holds the WGSL of every single-input pointwise code.
var pointStages = map[string]string{
	"brightness": `fn stage_brightness(c: vec4<f32>, o: u32) -> vec4<f32> {
    return clamp01(vec4<f32>(c.rgb + vec3<f32>(u[o]), c.a));
}
`,
	"contrast": `fn stage_contrast(c: vec4<f32>, o: u32) -> vec4<f32> {
    let amount = u[o];
    let pivot = vec3<f32>(u[o + 1u]);
    return clamp01(vec4<f32>((c.rgb - pivot) * amount + pivot, c.a));
}
`,
	"exposure": `fn stage_exposure(c: vec4<f32>, o: u32) -> vec4<f32> {
    return clamp01(vec4<f32>(c.rgb * u[o], c.a));
}
`,
	"gamma": `fn stage_gamma(c: vec4<f32>, o: u32) -> vec4<f32> {
    let v = max(c.rgb, vec3<f32>(0.0));
    let g = select(pow(v, vec3<f32>(u[o])), vec3<f32>(0.0), v <= vec3<f32>(0.0));
    return clamp01(vec4<f32>(g, c.a));
}
`,
	"invert": `fn stage_invert(c: vec4<f32>, o: u32) -> vec4<f32> {
    return clamp01(vec4<f32>(vec3<f32>(1.0) - c.rgb, c.a));
}
`,
	"opacity": `fn stage_opacity(c: vec4<f32>, o: u32) -> vec4<f32> {
    return vec4<f32>(c.rgb, clamp(c.a * u[o], 0.0, 1.0));
}
`,
	"colormatrix": `fn stage_colormatrix(c: vec4<f32>, o: u32) -> vec4<f32> {
    var res: vec4<f32>;
    for (var row = 0u; row < 4u; row = row + 1u) {
        let r = o + row * 5u;
        res[row] = u[r] * c.r + u[r + 1u] * c.g + u[r + 2u] * c.b + u[r + 3u] * c.a + u[r + 4u];
    }
    return clamp01(res);
}
`,
	"convert": `fn stage_convert(c: vec4<f32>, o: u32) -> vec4<f32> {
    return c;
}
`,
}

// blendLibrary implements the separable blend modes on straight colors.
const blendLibrary = `fn hard_light(cb: vec3<f32>, cs: vec3<f32>) -> vec3<f32> {
    let s = 2.0 * cs - vec3<f32>(1.0);
    return select(cb + s - cb * s, cb * 2.0 * cs, cs <= vec3<f32>(0.5));
}

fn soft_light(cb: vec3<f32>, cs: vec3<f32>) -> vec3<f32> {
    let d = select(sqrt(cb), ((16.0 * cb - vec3<f32>(12.0)) * cb + vec3<f32>(4.0)) * cb, cb <= vec3<f32>(0.25));
    let hi = cb + (2.0 * cs - vec3<f32>(1.0)) * (d - cb);
    let lo = cb - (vec3<f32>(1.0) - 2.0 * cs) * cb * (vec3<f32>(1.0) - cb);
    return select(hi, lo, cs <= vec3<f32>(0.5));
}

fn color_dodge(cb: vec3<f32>, cs: vec3<f32>) -> vec3<f32> {
    let q = min(vec3<f32>(1.0), cb / max(vec3<f32>(1.0) - cs, vec3<f32>(1e-7)));
    return select(select(q, vec3<f32>(1.0), cs >= vec3<f32>(1.0)), vec3<f32>(0.0), cb == vec3<f32>(0.0));
}

fn color_burn(cb: vec3<f32>, cs: vec3<f32>) -> vec3<f32> {
    let q = vec3<f32>(1.0) - min(vec3<f32>(1.0), (vec3<f32>(1.0) - cb) / max(cs, vec3<f32>(1e-7)));
    return select(select(q, vec3<f32>(0.0), cs <= vec3<f32>(0.0)), vec3<f32>(1.0), cb >= vec3<f32>(1.0));
}

// composite applies the W3C source-over formula with blended color bc.
fn composite(b: vec4<f32>, s: vec4<f32>, bc: vec3<f32>) -> vec4<f32> {
    let ao = s.a + b.a * (1.0 - s.a);
    if ao <= 0.0 {
        return vec4<f32>(0.0);
    }
    let mixed = (1.0 - b.a) * s.rgb + b.a * bc;
    return vec4<f32>((s.a * mixed + (1.0 - s.a) * b.a * b.rgb) / ao, ao);
}

fn blend_finish(b: vec4<f32>, res: vec4<f32>, o: u32) -> vec4<f32> {
    let intensity = u[o];
    if intensity >= 1.0 {
        return clamp01(res);
    }
    return clamp01(mix(b, res, intensity));
}

`

// blendModes maps a blend mode name to the WGSL expression of B(cb, cs).
var blendModes = map[string]string{
	"normal":     "s.rgb",
	"multiply":   "b.rgb * s.rgb",
	"screen":     "b.rgb + s.rgb - b.rgb * s.rgb",
	"overlay":    "hard_light(s.rgb, b.rgb)",
	"darken":     "min(b.rgb, s.rgb)",
	"lighten":    "max(b.rgb, s.rgb)",
	"colordodge": "color_dodge(b.rgb, s.rgb)",
	"colorburn":  "color_burn(b.rgb, s.rgb)",
	"hardlight":  "hard_light(b.rgb, s.rgb)",
	"softlight":  "soft_light(b.rgb, s.rgb)",
	"difference": "abs(b.rgb - s.rgb)",
	"exclusion":  "b.rgb + s.rgb - 2.0 * b.rgb * s.rgb",
	"add":        "min(vec3<f32>(1.0), b.rgb + s.rgb)",
}

const blendStage = `fn %s(b: vec4<f32>, s: vec4<f32>, o: u32) -> vec4<f32> {
    return blend_finish(b, composite(b, s, %s), o);
}
`

// resampleLibrary samples input 0 in premultiplied space.
const resampleLibrary = `fn fetch(x: i32, y: i32, alpha: u32) -> vec4<f32> {
    let w = i32(params.src_width);
    let h = i32(params.src_height);
    let cx = clamp(x, 0, w - 1);
    let cy = clamp(y, 0, h - 1);
    return premul(decode(in0[u32(cy * w + cx)], alpha));
}

fn inside(p: vec2<f32>) -> bool {
    return p.x >= 0.0 && p.y >= 0.0 && p.x < f32(params.src_width) && p.y < f32(params.src_height);
}

fn src_pos(x: u32, y: u32, o: u32) -> vec2<f32> {
    let dx = f32(x) + 0.5;
    let dy = f32(y) + 0.5;
    let m = o + 6u;
    return vec2<f32>(u[m] * dx + u[m + 1u] * dy + u[m + 2u], u[m + 3u] * dx + u[m + 4u] * dy + u[m + 5u]);
}

fn cubic(t: f32) -> vec4<f32> {
    let t2 = t * t;
    let t3 = t2 * t;
    return vec4<f32>(
        -0.5 * t3 + t2 - 0.5 * t,
        1.5 * t3 - 2.5 * t2 + 1.0,
        -1.5 * t3 + 2.0 * t2 + 0.5 * t,
        0.5 * t3 - 0.5 * t2,
    );
}

`

var resampleStages = map[string]string{
	"resample.nearest": `fn stage_resample_nearest(p: vec2<f32>, alpha: u32) -> vec4<f32> {
    return fetch(i32(floor(p.x)), i32(floor(p.y)), alpha);
}
`,
	"resample.bilinear": `fn stage_resample_bilinear(p: vec2<f32>, alpha: u32) -> vec4<f32> {
    let q = p - vec2<f32>(0.5);
    let f = floor(q);
    let t = q - f;
    let x = i32(f.x);
    let y = i32(f.y);
    let top = mix(fetch(x, y, alpha), fetch(x + 1, y, alpha), t.x);
    let bottom = mix(fetch(x, y + 1, alpha), fetch(x + 1, y + 1, alpha), t.x);
    return mix(top, bottom, t.y);
}
`,
	"resample.catmullrom": `fn stage_resample_catmullrom(p: vec2<f32>, alpha: u32) -> vec4<f32> {
    let q = p - vec2<f32>(0.5);
    let f = floor(q);
    let wx = cubic(q.x - f.x);
    let wy = cubic(q.y - f.y);
    var acc = vec4<f32>(0.0);
    for (var j = 0; j < 4; j = j + 1) {
        var row = vec4<f32>(0.0);
        for (var i = 0; i < 4; i = i + 1) {
            row = row + wx[i] * fetch(i32(f.x) + i - 1, i32(f.y) + j - 1, alpha);
        }
        acc = acc + wy[j] * row;
    }
    return acc;
}
`,
}

var computeStages = map[string]string{
	"convolve": `fn stage_convolve(x: i32, y: i32, o: u32, alpha: u32) -> vec4<f32> {
    let n = i32(u[o]);
    let bias = u[o + 1u];
    let r = n / 2;
    var acc = vec4<f32>(0.0);
    for (var ky = 0; ky < n; ky = ky + 1) {
        for (var kx = 0; kx < n; kx = kx + 1) {
            let w = u[o + 2u + u32(ky * n + kx)];
            acc = acc + w * fetch(x + kx - r, y + ky - r, alpha);
        }
    }
    acc = vec4<f32>(acc.rgb + vec3<f32>(bias * acc.a), acc.a);
    let a = clamp(acc.a, 0.0, 1.0);
    return vec4<f32>(clamp(acc.rgb, vec3<f32>(0.0), vec3<f32>(a)), a);
}
`,
	"blur.separable": `fn stage_blur_separable(x: i32, y: i32, o: u32, alpha: u32) -> vec4<f32> {
    let n = i32(u[o]);
    let r = n / 2;
    var acc = vec4<f32>(0.0);
    for (var ky = 0; ky < n; ky = ky + 1) {
        var row = vec4<f32>(0.0);
        for (var kx = 0; kx < n; kx = kx + 1) {
            row = row + u[o + 1u + u32(kx)] * fetch(x + kx - r, y + ky - r, alpha);
        }
        acc = acc + u[o + 1u + u32(ky)] * row;
    }
    let a = clamp(acc.a, 0.0, 1.0);
    return vec4<f32>(clamp(acc.rgb, vec3<f32>(0.0), vec3<f32>(a)), a);
}
`,
}

const mainHeader = `@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if gid.x >= params.width || gid.y >= params.height {
        return;
    }
    let idx = gid.y * params.width + gid.x;
`
