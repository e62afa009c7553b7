package flamegraph

import (
	"fmt"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/pathresolver"
	"github.com/getsentry/calltrace/internal/profile"
)

// Request selects what RenderContainer draws.
type Request struct {
	// Thread defaults to the first session with calls.
	Thread string
	// Zoom is the path fingerprint of the zoom root, 0 for the root.
	Zoom   uint64
	Width  int
	Height int
	// Previous, when set, is compared against the session of the same
	// thread.
	Previous *profile.Container
}

// RenderContainer renders one session of c.
func (r *Renderer) RenderContainer(c *profile.Container, req Request) (*Graph, error) {
	s, err := SelectSession(c, req.Thread)
	if err != nil {
		return nil, err
	}
	src := Source{Tree: s.Tree, Registry: c.Registry}
	zoom := calltree.NoNode
	if req.Zoom != 0 {
		zoom, err = pathresolver.FindByFingerprint(s.Tree, c.Registry, req.Zoom)
		if err != nil {
			return nil, err
		}
	}
	var previous *pathresolver.Resolver
	if req.Previous != nil {
		ps, err := req.Previous.Session(s.ThreadName)
		if err != nil {
			return nil, err
		}
		previous = &pathresolver.Resolver{
			Current:          s.Tree,
			CurrentRegistry:  c.Registry,
			Previous:         ps.Tree,
			PreviousRegistry: req.Previous.Registry,
		}
	}
	return r.Render(src, zoom, req.Width, req.Height, previous)
}

// SelectSession returns the session of thread, or the first session with
// calls when thread is empty.
func SelectSession(c *profile.Container, thread string) (*profile.Session, error) {
	if thread != "" {
		return c.Session(thread)
	}
	for _, s := range c.Sessions {
		if !s.Tree.Empty() {
			return s, nil
		}
	}
	return nil, fmt.Errorf("flamegraph: %w: no session with calls", errorutil.ErrNotFound)
}
