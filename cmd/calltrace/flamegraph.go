package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/getsentry/calltrace/internal/flamegraph"
	"github.com/getsentry/calltrace/internal/httputil"
	"github.com/getsentry/calltrace/internal/profile"
)

// renderRequest parses the rendering parameters of r. It writes a 400
// response and returns false on invalid input.
func (env *environment) renderRequest(w http.ResponseWriter, r *http.Request) (flamegraph.Request, string, bool) {
	ps := httprouter.ParamsFromContext(r.Context())
	req := flamegraph.Request{Thread: ps.ByName("thread_name")}

	var ok bool
	if req.Width, ok = httputil.GetPositiveIntQueryParameter(w, r, "width", env.config.RenderWidth); !ok {
		return req, "", false
	}
	if req.Height, ok = httputil.GetPositiveIntQueryParameter(w, r, "height", env.config.RenderHeight); !ok {
		return req, "", false
	}
	if zoom := r.URL.Query().Get("zoom"); zoom != "" {
		fp, err := strconv.ParseUint(strings.TrimPrefix(zoom, "0x"), 16, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid zoom fingerprint %q", zoom), http.StatusBadRequest)
			return req, "", false
		}
		req.Zoom = fp
	}
	return req, r.URL.Query().Get("compare"), true
}

// renderGraph loads the profile, and the one to compare with when asked,
// and lays out the flame graph of the requested thread.
func (env *environment) renderGraph(w http.ResponseWriter, r *http.Request) (*flamegraph.Graph, bool) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)
	profileID := ps.ByName("profile_id")
	httputil.SetProfileTags(hub, profileID, ps.ByName("thread_name"))

	req, compareID, ok := env.renderRequest(w, r)
	if !ok {
		return nil, false
	}

	var current *profile.Container
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = env.loadContainer(gctx, profileID)
		return err
	})
	if compareID != "" {
		g.Go(func() error {
			var err error
			req.Previous, err = env.loadContainer(gctx, compareID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, hub, err)
		return nil, false
	}

	if err := env.renders.Acquire(ctx, 1); err != nil {
		writeError(w, hub, err)
		return nil, false
	}
	defer env.renders.Release(1)

	s := sentry.StartSpan(ctx, "flamegraph.render")
	s.Description = "Render flame graph"
	renderer := env.renderer
	if req.Previous != nil {
		renderer = env.compare
	}
	graph, err := renderer.RenderContainer(current, req)
	s.Finish()
	if err != nil {
		writeError(w, hub, err)
		return nil, false
	}
	return graph, true
}

func (env *environment) getFlamegraph(w http.ResponseWriter, r *http.Request) {
	graph, ok := env.renderGraph(w, r)
	if !ok {
		return
	}
	s := sentry.StartSpan(r.Context(), "png.encode")
	defer s.Finish()
	var b bytes.Buffer
	if err := graph.EncodePNG(&b); err != nil {
		writeError(w, sentry.GetHubFromContext(r.Context()), err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(b.Bytes())
}

// getRegions returns the rectangles of the flame graph so clients can map
// their own drawing or a click back to a call.
func (env *environment) getRegions(w http.ResponseWriter, r *http.Request) {
	graph, ok := env.renderGraph(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, graph.Regions)
}
