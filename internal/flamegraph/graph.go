package flamegraph

import (
	"image"
	"image/png"
	"io"

	"github.com/getsentry/calltrace/internal/calltree"
)

type (
	// Region is the rectangle a node was laid out in.
	Region struct {
		X          int             `json:"x"`
		Y          int             `json:"y"`
		Width      int             `json:"width"`
		Height     int             `json:"height"`
		Depth      int             `json:"depth"`
		Node       calltree.NodeID `json:"node"`
		Label      string          `json:"label,omitempty"`
		Comparison *Comparison     `json:"comparison,omitempty"`
	}

	// Comparison is the difference between a node and its counterpart in a
	// previous capture. Available is false when the call path doesn't exist
	// in the previous capture.
	Comparison struct {
		Available bool `json:"available"`
		// Delta is in percentage points of the parent's time, positive
		// when the node got slower relative to its parent.
		Delta        float64 `json:"delta"`
		OverlayWidth int     `json:"overlay_width"`
	}

	// Graph is a rendered flame graph. Regions are in layout order, parents
	// before their children, so the first one is the zoom root. Nodes too
	// narrow to be painted have a region of width 0.
	Graph struct {
		Image   *image.RGBA
		Regions []Region
	}
)

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Region) Contains(x, y int) bool {
	return image.Pt(x, y).In(r.Rect())
}

// RegionAt returns the first region containing the point.
func (g *Graph) RegionAt(x, y int) (Region, bool) {
	for _, r := range g.Regions {
		if r.Contains(x, y) {
			return r, true
		}
	}
	return Region{}, false
}

// Find returns the region of node n, for instance to keep a selection after
// rendering at another size.
func (g *Graph) Find(n calltree.NodeID) (Region, bool) {
	for _, r := range g.Regions {
		if r.Node == n {
			return r, true
		}
	}
	return Region{}, false
}

// First returns the region of the zoom root.
func (g *Graph) First() (Region, bool) {
	if len(g.Regions) == 0 {
		return Region{}, false
	}
	return g.Regions[0], true
}

func (g *Graph) EncodePNG(w io.Writer) error {
	return png.Encode(w, g.Image)
}
