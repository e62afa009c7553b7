package flamegraph

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/pathresolver"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/testutil"
)

const className = "de/codesourcery/sampleapp/TestApplicationManual"

func newRegistry(t *testing.T, identities ...method.Identity) *method.Registry {
	t.Helper()
	r := method.NewRegistry()
	for _, i := range identities {
		if err := r.Register(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return r
}

func sampleRegistry(t *testing.T) *method.Registry {
	t.Helper()
	var identities []method.Identity
	for id, name := range []string{"run", "method1", "method2", "method3", "method4", "method5"} {
		identities = append(identities, method.Identity{
			ID:         method.ID(id),
			ClassName:  className,
			MethodName: name,
			Signature:  "()V",
		})
	}
	return newRegistry(t, identities...)
}

type timing struct {
	parent calltree.NodeID
	id     method.ID
	ms     float64
}

// newTree adds nodes in order, the first one being the root.
func newTree(t *testing.T, timings ...timing) *calltree.Tree {
	t.Helper()
	tree := calltree.NewTree()
	for _, tm := range timings {
		var n calltree.NodeID
		if tm.parent == calltree.NoNode {
			root, err := tree.AddRoot(tm.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			n = root
		} else {
			n = tree.FindOrAddChild(tm.parent, tm.id)
		}
		tree.Node(n).InvocationCount = 1
		tree.Node(n).TotalTimeMs = tm.ms
	}
	return tree
}

// run(100) > method1(60) > method3(30)
//          > method2(40) > method5(0.05)
func sampleTree(t *testing.T) *calltree.Tree {
	return newTree(t,
		timing{calltree.NoNode, 0, 100},
		timing{0, 1, 60},
		timing{0, 2, 40},
		timing{1, 3, 30},
		timing{2, 5, 0.05},
	)
}

func regionsWithoutLabels(g *Graph) []Region {
	regions := make([]Region, len(g.Regions))
	for i, r := range g.Regions {
		r.Label = ""
		regions[i] = r
	}
	return regions
}

func TestLayout(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	g, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// method5 is too narrow to be painted
	want := []Region{
		{X: 0, Y: 267, Width: 1000, Height: 133, Depth: 0, Node: 0},
		{X: 0, Y: 134, Width: 600, Height: 133, Depth: 1, Node: 1},
		{X: 0, Y: 1, Width: 300, Height: 133, Depth: 2, Node: 3},
		{X: 600, Y: 134, Width: 400, Height: 133, Depth: 1, Node: 2},
		{X: 600, Y: 1, Width: 0, Height: 133, Depth: 2, Node: 4},
	}
	if diff := testutil.Diff(regionsWithoutLabels(g), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if b := g.Image.Bounds(); b.Dx() != 1000 || b.Dy() != 400 {
		t.Fatalf("expected a 1000x400 image, got %v", b)
	}
}

func TestLayoutSpreadsRowsOverVisibleDepth(t *testing.T) {
	tree := newTree(t,
		timing{calltree.NoNode, 0, 100},
		timing{0, 1, 100},
		timing{1, 2, 0.01},
	)
	g, err := NewRenderer(DefaultScheme).Render(Source{Tree: tree, Registry: sampleRegistry(t)}, calltree.NoNode, 1000, 400, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Region{
		{X: 0, Y: 200, Width: 1000, Height: 200, Depth: 0, Node: 0},
		{X: 0, Y: 0, Width: 1000, Height: 200, Depth: 1, Node: 1},
	}
	if diff := testutil.Diff(regionsWithoutLabels(g), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestChildrenStayWithinTheirParent(t *testing.T) {
	// children add up to more than their parent
	tree := newTree(t,
		timing{calltree.NoNode, 0, 10},
		timing{0, 1, 7},
		timing{0, 2, 7},
		timing{1, 3, 9},
	)
	g, err := NewRenderer(DefaultScheme).Render(Source{Tree: tree, Registry: sampleRegistry(t)}, calltree.NoNode, 333, 90, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byNode := make(map[calltree.NodeID]Region)
	for _, r := range g.Regions {
		byNode[r.Node] = r
	}
	for _, r := range g.Regions {
		p := tree.Parent(r.Node)
		if p == calltree.NoNode {
			continue
		}
		parent := byNode[p]
		if r.X < parent.X || r.X+r.Width > parent.X+parent.Width {
			t.Fatalf("node %d spans [%d,%d), outside of its parent [%d,%d)", r.Node, r.X, r.X+r.Width, parent.X, parent.X+parent.Width)
		}
		if r.Y+r.Height != parent.Y {
			t.Fatalf("node %d isn't stacked on its parent", r.Node)
		}
	}
}

func TestZoom(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	g, err := NewRenderer(DefaultScheme).Render(src, 1, 600, 200, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Region{
		{X: 0, Y: 100, Width: 600, Height: 100, Depth: 0, Node: 1},
		{X: 0, Y: 0, Width: 300, Height: 100, Depth: 1, Node: 3},
	}
	if diff := testutil.Diff(regionsWithoutLabels(g), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	first, ok := g.First()
	if !ok || first.Node != 1 {
		t.Fatalf("expected the zoom root first, got %+v", first)
	}
}

func TestRenderErrors(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	r := NewRenderer(DefaultScheme)
	if _, err := r.Render(src, calltree.NoNode, 0, 100, nil); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected invalid size, got %v", err)
	}
	if _, err := r.Render(src, 42, 100, 100, nil); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Render(Source{Tree: calltree.NewTree(), Registry: src.Registry}, calltree.NoNode, 100, 100, nil); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	unknown := Source{Tree: src.Tree, Registry: method.NewRegistry()}
	if _, err := r.Render(unknown, calltree.NoNode, 100, 100, nil); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHitTesting(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	g, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		x, y  int
		want  calltree.NodeID
		found bool
	}{
		{500, 399, 0, true},
		{0, 267, 0, true},
		{599, 200, 1, true},
		{600, 200, 2, true},
		{299, 1, 3, true},
		{300, 1, 0, false},
		{0, 0, 0, false},
	}
	for _, test := range tests {
		r, ok := g.RegionAt(test.x, test.y)
		if ok != test.found || (ok && r.Node != test.want) {
			t.Fatalf("RegionAt(%d, %d): expected node %d (%v), got %d (%v)", test.x, test.y, test.want, test.found, r.Node, ok)
		}
	}

	// re-locating a selection after a resize
	resized, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 500, 200, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := resized.Find(2)
	if !ok {
		t.Fatal("expected to find node 2")
	}
	if r.X != 300 || r.Width != 200 {
		t.Fatalf("expected node 2 at x=300 with width 200, got %+v", r)
	}
	r, ok = resized.Find(4)
	if !ok || r.Width != 0 || r.Label != "" {
		t.Fatalf("expected node 4 to keep an unpainted region, got %+v (%v)", r, ok)
	}
	if got := resized.Image.RGBAAt(r.X, r.Y+r.Height-1); got != white {
		t.Fatalf("expected nothing painted above node 2, got %v", got)
	}
}

func TestGradient(t *testing.T) {
	got := DefaultScheme.Gradient()
	want := []color.RGBA{
		{R: 178, G: 0, B: 0, A: 255},
		{R: 197, G: 64, B: 0, A: 255},
		{R: 217, G: 128, B: 0, A: 255},
		{R: 236, G: 191, B: 0, A: 255},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestBounce(t *testing.T) {
	var got []int
	for i := 0; i < 10; i++ {
		got = append(got, bounce(i, 4))
	}
	if diff := testutil.Diff(got, []int{0, 1, 2, 3, 2, 1, 0, 1, 2, 3}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if bounce(7, 1) != 0 {
		t.Fatal("expected a single color palette to always be used")
	}
}

func TestPalette(t *testing.T) {
	// a chain of 6 calls
	tree := newTree(t,
		timing{calltree.NoNode, 0, 100},
		timing{0, 1, 100},
		timing{1, 2, 100},
		timing{2, 3, 100},
		timing{3, 4, 100},
		timing{4, 5, 100},
	)
	g, err := NewRenderer(DefaultScheme).Render(Source{Tree: tree, Registry: sampleRegistry(t)}, calltree.NoNode, 200, 60, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	palette := DefaultScheme.Gradient()
	for i, r := range g.Regions {
		got := g.Image.RGBAAt(r.X, r.Y+r.Height-1)
		if want := palette[bounce(i, len(palette))]; got != want {
			t.Fatalf("region %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestLabel(t *testing.T) {
	identity := method.Identity{ClassName: className, MethodName: "method1", Signature: "()V"}
	r := NewRenderer(DefaultScheme)
	tests := []struct {
		width int
		want  string
	}{
		{40, "method1"},
		{50, "method1"},
		{70, "...method1"},
		{76, "...method1"},
		{77, "T...method1"},
		{98, "Test...method1"},
		{100, "Test...method1"},
		{1000, "TestApplicationManual.method1"},
	}
	for _, test := range tests {
		if got := r.label(identity, test.width); got != test.want {
			t.Fatalf("label at width %d: expected %q, got %q", test.width, test.want, got)
		}
	}
}

func TestDiffAgainstItself(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	previous := &pathresolver.Resolver{
		Current:          src.Tree,
		CurrentRegistry:  src.Registry,
		Previous:         src.Tree.Clone(),
		PreviousRegistry: src.Registry,
	}
	g, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, previous)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range g.Regions {
		if diff := testutil.Diff(r.Comparison, &Comparison{Available: true}); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
	}
}

func TestDiff(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	// method2 moved, method3 is new
	previousRegistry := newRegistry(t,
		method.Identity{ID: 7, ClassName: className, MethodName: "method2", Signature: "()V"},
		method.Identity{ID: 8, ClassName: className, MethodName: "method1", Signature: "()V"},
		method.Identity{ID: 9, ClassName: className, MethodName: "run", Signature: "()V"},
	)
	previousTree := newTree(t,
		timing{calltree.NoNode, 9, 100},
		timing{0, 8, 80},
		timing{0, 7, 20},
	)
	previous := &pathresolver.Resolver{
		Current:          src.Tree,
		CurrentRegistry:  src.Registry,
		Previous:         previousTree,
		PreviousRegistry: previousRegistry,
	}
	g, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, previous)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		node  calltree.NodeID
		want  *Comparison
		color color.RGBA
	}{
		{1, &Comparison{Available: true, Delta: -20, OverlayWidth: 120}, DefaultScheme.Good},
		{2, &Comparison{Available: true, Delta: 20, OverlayWidth: 80}, DefaultScheme.Bad},
		{3, &Comparison{OverlayWidth: 2}, neutralGray},
	}
	for _, test := range tests {
		r, ok := g.Find(test.node)
		if !ok {
			t.Fatalf("expected to find node %d", test.node)
		}
		if diff := testutil.Diff(r.Comparison, test.want, testutil.ApproxFloat(1e-9)); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
		right := r.X + r.Width
		if got := g.Image.RGBAAt(right-1, r.Y+r.Height-1); got != test.color {
			t.Fatalf("node %d: expected overlay %v, got %v", test.node, test.color, got)
		}
		if got := g.Image.RGBAAt(right-test.want.OverlayWidth-1, r.Y+r.Height-1); got == test.color {
			t.Fatalf("node %d: expected the overlay to be %d pixels wide", test.node, test.want.OverlayWidth)
		}
	}
}

func TestDiffAbortsOnAmbiguousMethods(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	previousRegistry := newRegistry(t,
		method.Identity{ID: 0, ClassName: className, MethodName: "run", Signature: "()V", Line: 20},
		method.Identity{ID: 1, ClassName: className, MethodName: "run", Signature: "()V", Line: 30},
	)
	previous := &pathresolver.Resolver{
		Current:          src.Tree,
		CurrentRegistry:  src.Registry,
		Previous:         newTree(t, timing{calltree.NoNode, 0, 100}),
		PreviousRegistry: previousRegistry,
	}
	if _, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, previous); !errors.Is(err, errorutil.ErrAmbiguous) {
		t.Fatalf("expected an ambiguity error, got %v", err)
	}

	previous.Current = calltree.NewTree()
	if _, err := NewRenderer(DefaultScheme).Render(src, calltree.NoNode, 1000, 400, previous); err == nil {
		t.Fatal("expected an error for a resolver of another tree")
	}
}

func TestRenderToRaster(t *testing.T) {
	src := Source{Tree: sampleTree(t), Registry: sampleRegistry(t)}
	b, err := NewRenderer(CompareScheme).RenderToRaster(src, calltree.NoNode, 320, 240, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := img.Bounds().Size(); got.X != 320 || got.Y != 240 {
		t.Fatalf("expected a 320x240 image, got %v", got)
	}
}

func TestRenderContainer(t *testing.T) {
	registry := sampleRegistry(t)
	idle := profile.NewSession("idle", time.UnixMilli(1))
	mainThread := profile.NewSession("main", time.UnixMilli(2))
	mainThread.Tree = sampleTree(t)
	c := profile.NewContainer(registry, []*profile.Session{idle, mainThread})

	r := NewRenderer(DefaultScheme)
	g, err := r.RenderContainer(c, Request{Width: 1000, Height: 400})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Regions) != 5 {
		t.Fatalf("expected the main thread to be rendered, got %d regions", len(g.Regions))
	}

	fp, err := pathresolver.Fingerprint(mainThread.Tree, registry, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err = r.RenderContainer(c, Request{Thread: "main", Zoom: fp, Width: 600, Height: 200, Previous: c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := g.First()
	if first.Node != 1 || first.Comparison == nil || !first.Comparison.Available {
		t.Fatalf("expected method1 compared to itself first, got %+v", first)
	}

	if _, err := r.RenderContainer(c, Request{Thread: "idle", Width: 10, Height: 10}); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found for an empty session, got %v", err)
	}
	if _, err := r.RenderContainer(c, Request{Thread: "other", Width: 10, Height: 10}); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found for an unknown thread, got %v", err)
	}
	if _, err := r.RenderContainer(c, Request{Zoom: 42, Width: 10, Height: 10}); !errors.Is(err, errorutil.ErrNotFound) {
		t.Fatalf("expected not found for an unknown fingerprint, got %v", err)
	}
}
