package shader

import (
	"fmt"
	"strings"

	"github.com/gogpu/petal/gpucore"
)

func writePointwise(b *strings.Builder, src gpucore.ProgramSource) error {
	seen := make(map[string]bool)
	blends := false
	for _, st := range src.Stages {
		if seen[st.Code] {
			continue
		}
		seen[st.Code] = true
		if mode, ok := strings.CutPrefix(st.Code, "blend."); ok {
			expr, ok := blendModes[mode]
			if !ok {
				return fmt.Errorf("%w: blend mode %q", ErrUnsupported, mode)
			}
			if !blends {
				b.WriteString(blendLibrary)
				blends = true
			}
			fmt.Fprintf(b, blendStage, stageName(st.Code), expr)
			continue
		}
		body, ok := pointStages[st.Code]
		if !ok {
			return fmt.Errorf("%w: pointwise code %q", ErrUnsupported, st.Code)
		}
		b.WriteString(body)
	}
	b.WriteByte('\n')

	b.WriteString(mainHeader)
	fmt.Fprintf(b, "    var c = decode(in0[idx], %s);\n", alphaConst(src.Inputs[0]))
	next := 1
	last := len(src.Stages) - 1
	for i, st := range src.Stages {
		if st.Extra > 0 {
			fmt.Fprintf(b, "    c = %s(c, decode(in%d[idx], %s), offset(%du));\n",
				stageName(st.Code), next, alphaConst(src.Inputs[next]), i)
			next += st.Extra
		} else {
			fmt.Fprintf(b, "    c = %s(c, offset(%du));\n", stageName(st.Code), i)
		}
		if i < last {
			fmt.Fprintf(b, "    c = roundtrip(c, %s);\n", alphaConst(st.Alpha))
		}
	}
	fmt.Fprintf(b, "    dst[idx] = encode(c, %s);\n}\n", alphaConst(src.Alpha()))
	return nil
}

func writeResample(b *strings.Builder, src gpucore.ProgramSource) error {
	st := src.Stages[0]
	body, ok := resampleStages[st.Code]
	if !ok {
		return fmt.Errorf("%w: resample code %q", ErrUnsupported, st.Code)
	}
	b.WriteString(resampleLibrary)
	b.WriteString(body)
	b.WriteByte('\n')

	b.WriteString(mainHeader)
	b.WriteString("    let p = src_pos(gid.x, gid.y, offset(0u));\n")
	b.WriteString("    if !inside(p) {\n        dst[idx] = vec4<f32>(0.0);\n        return;\n    }\n")
	fmt.Fprintf(b, "    let c = clamp01(unpremul(%s(p, %s)));\n", stageName(st.Code), alphaConst(src.Inputs[0]))
	fmt.Fprintf(b, "    dst[idx] = encode(c, %s);\n}\n", alphaConst(st.Alpha))
	return nil
}

func writeCompute(b *strings.Builder, src gpucore.ProgramSource) error {
	st := src.Stages[0]
	body, ok := computeStages[st.Code]
	if !ok {
		return fmt.Errorf("%w: compute code %q", ErrUnsupported, st.Code)
	}
	b.WriteString(resampleLibrary)
	b.WriteString(body)
	b.WriteByte('\n')

	b.WriteString(mainHeader)
	fmt.Fprintf(b, "    let p = %s(i32(gid.x), i32(gid.y), offset(0u), %s);\n", stageName(st.Code), alphaConst(src.Inputs[0]))
	fmt.Fprintf(b, "    dst[idx] = encode(unpremul(p), %s);\n}\n", alphaConst(st.Alpha))
	return nil
}
