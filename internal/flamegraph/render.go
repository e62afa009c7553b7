package flamegraph

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/pathresolver"
)

var (
	ErrInvalidSize = errors.New("flamegraph: width and height must be positive")

	errForeignResolver = errors.New("flamegraph: the resolver describes another tree")
)

const neutralMarkerWidth = 2

type (
	// Source is a call tree along with the registry its method ids belong to.
	Source struct {
		Tree     *calltree.Tree
		Registry *method.Registry
	}

	Renderer struct {
		Scheme ColorScheme
		Face   font.Face
	}

	// layout holds the state of a single pass over the tree.
	layout struct {
		tree     *calltree.Tree
		maxDepth int
		rowH     int
		visit    func(Region) error
	}
)

func NewRenderer(scheme ColorScheme) *Renderer {
	return &Renderer{
		Scheme: scheme,
		Face:   basicfont.Face7x13,
	}
}

// Render lays out the subtree under zoom on a width x height canvas.
//
// The first pass places every node to find out how deep the graph gets once
// nodes too narrow to be seen are left out. The second pass lays the tree
// out again with the rows spread over that depth and paints it.
//
// When previous is set, each rectangle carries how its share of the parent's
// time changed since the previous capture. previous.Current must be
// src.Tree.
func (r *Renderer) Render(src Source, zoom calltree.NodeID, width, height int, previous *pathresolver.Resolver) (*Graph, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	if src.Tree == nil || src.Tree.Empty() {
		return nil, fmt.Errorf("flamegraph: %w: empty call tree", errorutil.ErrNotFound)
	}
	if zoom == calltree.NoNode {
		zoom = src.Tree.Root()
	}
	if int(zoom) < 0 || int(zoom) >= src.Tree.Len() {
		return nil, fmt.Errorf("flamegraph: %w: node %d", errorutil.ErrNotFound, zoom)
	}
	if previous != nil && previous.Current != src.Tree {
		return nil, errForeignResolver
	}

	visibleDepth := 0
	measure := layout{
		tree:     src.Tree,
		maxDepth: src.Tree.MaxDepth(zoom),
		visit: func(region Region) error {
			if region.Width > 0 && region.Depth > visibleDepth {
				visibleDepth = region.Depth
			}
			return nil
		},
	}
	measure.rowH = height / (measure.maxDepth + 1)
	if err := measure.place(zoom, 0, height-measure.rowH, width, 0); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)
	g := &Graph{Image: img}

	palette := r.Scheme.Gradient()
	counter := 0
	paint := layout{
		tree:     src.Tree,
		maxDepth: visibleDepth,
		visit: func(region Region) error {
			identity, err := src.Registry.Resolve(src.Tree.Node(region.Node).MethodID)
			if err != nil {
				return fmt.Errorf("flamegraph: %w", err)
			}
			// Nodes too narrow to be seen keep a region but aren't painted.
			if region.Width > 0 {
				fill := palette[bounce(counter, len(palette))]
				counter++
				draw.Draw(img, region.Rect(), image.NewUniform(fill), image.Point{}, draw.Src)
				region.Label = r.label(identity, region.Width)
				r.drawLabel(img, region)
			}

			if previous != nil {
				c, err := r.compare(img, previous, region)
				if err != nil {
					return err
				}
				region.Comparison = c
			}
			g.Regions = append(g.Regions, region)
			return nil
		},
	}
	paint.rowH = height / (visibleDepth + 1)
	if err := paint.place(zoom, 0, height-paint.rowH, width, 0); err != nil {
		return nil, err
	}
	return g, nil
}

// RenderToRaster renders the graph and encodes it as a PNG image.
func (r *Renderer) RenderToRaster(src Source, zoom calltree.NodeID, width, height int, previous *pathresolver.Resolver) ([]byte, error) {
	g, err := r.Render(src, zoom, width, height, previous)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := g.EncodePNG(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// place visits n at the given position then lays out its children from left
// to right in the row above. Rounding leaves gaps after the children.
func (l *layout) place(n calltree.NodeID, x, y, w, depth int) error {
	if err := l.visit(Region{
		X:      x,
		Y:      y,
		Width:  w,
		Height: l.rowH,
		Depth:  depth,
		Node:   n,
	}); err != nil {
		return err
	}
	if depth >= l.maxDepth {
		return nil
	}
	total := l.tree.TotalTime(n)
	cursor := x
	for _, c := range l.tree.Children(n) {
		var cw int
		if total > 0 {
			cw = int(float64(w) * l.tree.TotalTime(c) / total)
		}
		if cw < 0 {
			cw = 0
		}
		if right := x + w; cursor+cw > right {
			cw = right - cursor
		}
		if err := l.place(c, cursor, y-l.rowH, cw, depth+1); err != nil {
			return err
		}
		cursor += cw
	}
	return nil
}

// label returns the longest "Cla...method" that fits in width, starting
// from "...method". The bare method name is used when it doesn't fit.
func (r *Renderer) label(identity method.Identity, width int) string {
	name := identity.DisplayMethodName()
	if r.textWidth(name) >= width {
		return name
	}
	best := name
	class := identity.SimpleClassName()
	for i := 0; i <= len(class); i++ {
		candidate := class[:i] + "..." + name
		if i == len(class) {
			candidate = class + "." + name
		}
		if r.textWidth(candidate) > width {
			break
		}
		best = candidate
	}
	return best
}

func (r *Renderer) textWidth(s string) int {
	return font.MeasureString(r.Face, s).Ceil()
}

func (r *Renderer) drawLabel(img *image.RGBA, region Region) {
	if region.Label == "" || region.Height <= 0 {
		return
	}
	clip, ok := img.SubImage(region.Rect()).(*image.RGBA)
	if !ok {
		return
	}
	metrics := r.Face.Metrics()
	textW := r.textWidth(region.Label)
	x := region.X + (region.Width-textW)/2
	y := region.Y + metrics.Ascent.Ceil() + (region.Height-metrics.Height.Ceil())/2
	d := font.Drawer{
		Dst:  clip,
		Src:  image.NewUniform(white),
		Face: r.Face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(region.Label)
}

// compare paints the trailing edge of region after the change of its share
// of the parent's time. Call paths the previous capture never took get a
// neutral marker.
func (r *Renderer) compare(img *image.RGBA, previous *pathresolver.Resolver, region Region) (*Comparison, error) {
	delta, err := previous.Delta(region.Node)
	if errors.Is(err, errorutil.ErrNotFound) {
		w := neutralMarkerWidth
		if w > region.Width {
			w = region.Width
		}
		r.overlay(img, region, w, neutralGray)
		return &Comparison{OverlayWidth: w}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flamegraph: %w", err)
	}
	w := int(math.Round(float64(region.Width) * math.Abs(delta) / 100))
	if w > region.Width {
		w = region.Width
	}
	switch {
	case delta > 0:
		r.overlay(img, region, w, r.Scheme.Bad)
	case delta < 0:
		r.overlay(img, region, w, r.Scheme.Good)
	default:
		w = 0
	}
	return &Comparison{Available: true, Delta: delta, OverlayWidth: w}, nil
}

func (r *Renderer) overlay(img *image.RGBA, region Region, w int, c color.RGBA) {
	if w <= 0 {
		return
	}
	right := region.X + region.Width
	rect := image.Rect(right-w, region.Y, right, region.Y+region.Height)
	draw.Draw(img, rect, image.NewUniform(c), image.Point{}, draw.Src)
}
