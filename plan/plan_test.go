package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

var rgba = pixel.Descriptor{Width: 4, Height: 4, Format: pixel.FormatRGBA8Unorm}

var ignorePlanState = cmpopts.IgnoreUnexported(Plan{})

func mustCompile(t *testing.T, g *graph.Graph, outputs []graph.NodeID, opts ...Option) *Plan {
	t.Helper()
	p, err := Compile(context.Background(), g, outputs, opts...)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return p
}

func TestCompileFusedChain(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	b := g.MustNode(op.NewBrightness(0.1), leaf)
	c := g.MustNode(op.NewContrast(1.2), b)

	got := mustCompile(t, g, []graph.NodeID{c})
	want := &Plan{
		Slots: []Slot{
			{ID: 0, Node: leaf, Desc: rgba, Role: SlotLeaf},
			{ID: 1, Node: c, Desc: rgba, Role: SlotOutput},
		},
		Passes: []Pass{{
			Index:  0,
			Nodes:  []graph.NodeID{b, c},
			Inputs: []SlotID{0},
			Output: 1,
			Program: gpucore.ProgramSource{
				Kind:   op.KindPixel,
				Stages: []gpucore.Stage{{Code: "brightness"}, {Code: "contrast"}},
				Inputs: []pixel.AlphaType{pixel.AlphaStraight},
				Format: pixel.FormatRGBA8Unorm,
			},
			Uniforms: [][]float32{{0.1}, {1.2, 0}},
			Release:  []SlotID{0},
		}},
		Leaves:  []Binding{{Node: leaf, Slot: 0}},
		Outputs: []Binding{{Node: c, Slot: 1}},
		MaxLive: 2,
		Nodes:   3,
	}
	if diff := cmp.Diff(want, got, ignorePlanState); diff != "" {
		t.Errorf("Compile() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileWithoutCoalescing(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	b := g.MustNode(op.NewBrightness(0.1), leaf)
	c := g.MustNode(op.NewContrast(1.2), b)

	p := mustCompile(t, g, []graph.NodeID{c}, WithCoalescing(false))
	if len(p.Passes) != 2 {
		t.Fatalf("len(Passes) = %d, want 2", len(p.Passes))
	}
	if got := p.Slot(p.Passes[0].Output).Role; got != SlotIntermediate {
		t.Errorf("first pass output role = %v, want intermediate", got)
	}
	if diff := cmp.Diff([]SlotID{1}, p.Passes[1].Release); diff != "" {
		t.Errorf("second pass release mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedAncestorComputedOnce(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	shared := g.MustNode(op.GaussianBlur{Radius: 2}, leaf)
	x := g.MustNode(op.Invert{}, shared)
	y := g.MustNode(op.Gamma{Gamma: 2}, shared)

	p := mustCompile(t, g, []graph.NodeID{x, y})
	if len(p.Passes) != 3 {
		t.Fatalf("len(Passes) = %d, want 3\n%v", len(p.Passes), p)
	}
	blurs := 0
	for _, ps := range p.Passes {
		if ps.Label() == "blur.separable" {
			blurs++
		}
	}
	if blurs != 1 {
		t.Errorf("shared blur computed %d times, want 1", blurs)
	}
	// The shared slot is released after its last reader only.
	sharedSlot := p.Passes[0].Output
	if diff := cmp.Diff([]SlotID{sharedSlot}, p.Passes[2].Release); diff != "" {
		t.Errorf("release mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateSubexpressionsMerge(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	a1 := g.MustNode(op.NewBrightness(0.1), leaf)
	a2 := g.MustNode(op.NewBrightness(0.1), leaf)
	x := g.MustNode(op.Invert{}, a1)
	y := g.MustNode(op.Invert{}, a2)

	p := mustCompile(t, g, []graph.NodeID{x, y})
	if len(p.Passes) != 1 || p.Nodes != 3 {
		t.Fatalf("passes = %d, nodes = %d; want 1, 3\n%v", len(p.Passes), p.Nodes, p)
	}
	if p.Outputs[0].Slot != p.Outputs[1].Slot {
		t.Errorf("equal outputs bound to slots %d and %d", p.Outputs[0].Slot, p.Outputs[1].Slot)
	}
	if p.Outputs[1].Node != y {
		t.Errorf("Outputs[1].Node = %v, want the requested %v", p.Outputs[1].Node, y)
	}
}

func TestDistinctLeavesNotMerged(t *testing.T) {
	g := graph.New()
	l1, _ := g.Leaf(rgba)
	l2, _ := g.Leaf(rgba)
	x := g.MustNode(op.Invert{}, l1)
	y := g.MustNode(op.Invert{}, l2)

	p := mustCompile(t, g, []graph.NodeID{x, y})
	if len(p.Passes) != 2 || len(p.Leaves) != 2 {
		t.Errorf("passes = %d, leaves = %d; want 2, 2", len(p.Passes), len(p.Leaves))
	}
}

func TestPeakLiveBoundedOnLongChain(t *testing.T) {
	g := graph.New()
	prev, _ := g.Leaf(rgba)
	const k = 32
	for i := 0; i < k; i++ {
		prev = g.MustNode(op.BoxBlur{Radius: 1}, prev)
	}

	p := mustCompile(t, g, []graph.NodeID{prev})
	if len(p.Passes) != k {
		t.Fatalf("len(Passes) = %d, want %d", len(p.Passes), k)
	}
	if p.MaxLive != 2 {
		t.Errorf("MaxLive = %d, want 2", p.MaxLive)
	}
}

func TestOutputSlotsNeverReleased(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	a := g.MustNode(op.NewBrightness(0.1), leaf)
	b := g.MustNode(op.Invert{}, a)

	p := mustCompile(t, g, []graph.NodeID{a, b, leaf})
	outputs := make(map[SlotID]bool)
	for _, s := range p.Slots {
		if s.Role == SlotOutput {
			outputs[s.ID] = true
		}
	}
	if len(outputs) != 2 {
		t.Fatalf("output slots = %d, want 2\n%v", len(outputs), p)
	}
	for _, ps := range p.Passes {
		for _, r := range ps.Release {
			if outputs[r] {
				t.Errorf("pass %d releases output slot s%d", ps.Index, r)
			}
		}
	}
	if got := p.Slot(p.Outputs[2].Slot).Role; got != SlotLeaf {
		t.Errorf("leaf output role = %v, want leaf", got)
	}
}

func TestCompileErrors(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	p, _ := g.Declare(rgba)
	dangling := g.MustNode(op.Invert{}, p)
	_ = leaf

	tests := []struct {
		name    string
		outputs []graph.NodeID
		want    error
	}{
		{"no outputs", nil, ErrNoOutputs},
		{"unknown", []graph.NodeID{42}, graph.ErrUnknownNode},
		{"undefined placeholder", []graph.NodeID{p}, graph.ErrUndefined},
		{"undefined input", []graph.NodeID{dangling}, graph.ErrUndefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(context.Background(), g, tt.outputs)
			if !errors.Is(err, tt.want) {
				t.Errorf("Compile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeclaredThenDefinedCompiles(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	p, _ := g.Declare(rgba)
	out := g.MustNode(op.Invert{}, p)
	if err := g.Define(p, op.NewBrightness(0.2), leaf); err != nil {
		t.Fatal(err)
	}

	plan := mustCompile(t, g, []graph.NodeID{out})
	if diff := cmp.Diff([]graph.NodeID{p, out}, plan.Passes[0].Nodes); diff != "" {
		t.Errorf("pass nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestClaim(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	p := mustCompile(t, g, []graph.NodeID{g.MustNode(op.Invert{}, leaf)})
	if !p.Claim() {
		t.Fatal("first Claim() = false")
	}
	if p.Claim() || !p.Claimed() {
		t.Error("second Claim() succeeded")
	}
}

func TestPlanString(t *testing.T) {
	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	b := g.MustNode(op.NewBrightness(0.1), leaf)
	c := g.MustNode(op.NewContrast(1.2), b)

	s := mustCompile(t, g, []graph.NodeID{c}).String()
	for _, want := range []string{"1 passes", "pass 0: brightness|contrast [s0] -> s1 release [s0]", "output n3 = s1"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestCompileSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	g := graph.New()
	leaf, _ := g.Leaf(rgba)
	mustCompile(t, g, []graph.NodeID{g.MustNode(op.Invert{}, leaf)}, WithTracerProvider(tp))
	_, _ = Compile(context.Background(), g, nil, WithTracerProvider(tp))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "plan.Compile" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "petal.passes" && kv.Value.AsInt64() == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("petal.passes attribute missing: %v", spans[0].Attributes())
	}
	if spans[1].Status().Code.String() != "Error" {
		t.Errorf("failed compile status = %v", spans[1].Status())
	}
}

// =============================================================================
// TopoSort
// =============================================================================

func adjacency(m map[graph.NodeID][]graph.NodeID) func(graph.NodeID) []graph.NodeID {
	return func(id graph.NodeID) []graph.NodeID { return m[id] }
}

func TestTopoSortDeterministic(t *testing.T) {
	// 5 reads 3 and 4; both read 1 and 2.
	in := adjacency(map[graph.NodeID][]graph.NodeID{
		5: {4, 3},
		4: {2, 1},
		3: {1, 2},
	})
	for i := 0; i < 5; i++ {
		got, err := TopoSort([]graph.NodeID{5}, in)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]graph.NodeID{1, 2, 3, 4, 5}, got); diff != "" {
			t.Fatalf("TopoSort() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestTopoSortCycle(t *testing.T) {
	in := adjacency(map[graph.NodeID][]graph.NodeID{
		9: {3},
		3: {2},
		2: {1},
		1: {3},
	})
	_, err := TopoSort([]graph.NodeID{9}, in)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("TopoSort() error = %v, want ErrCycleDetected", err)
	}
	var ce *CycleDetectedError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %T", err)
	}
	if diff := cmp.Diff([]graph.NodeID{1, 2, 3, 9}, ce.Nodes); diff != "" {
		t.Errorf("Nodes mismatch (-want +got):\n%s", diff)
	}
}
