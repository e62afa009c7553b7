package main

import (
	"bytes"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/calltrace/internal/httputil"
	"github.com/getsentry/calltrace/internal/pprofutil"
	"github.com/getsentry/calltrace/internal/speedscope"
)

func (env *environment) getSpeedscope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	profileID := httprouter.ParamsFromContext(ctx).ByName("profile_id")
	httputil.SetProfileTags(hub, profileID, "")

	c, err := env.loadContainer(ctx, profileID)
	if err != nil {
		writeError(w, hub, err)
		return
	}

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Convert to speedscope"
	o, err := speedscope.FromContainer(c)
	s.Finish()
	if err != nil {
		writeError(w, hub, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+profileID+`.speedscope.json"`)
	writeJSON(w, http.StatusOK, o)
}

func (env *environment) getPprof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	profileID := httprouter.ParamsFromContext(ctx).ByName("profile_id")
	httputil.SetProfileTags(hub, profileID, "")

	c, err := env.loadContainer(ctx, profileID)
	if err != nil {
		writeError(w, hub, err)
		return
	}

	var b bytes.Buffer
	if err := pprofutil.Write(&b, c); err != nil {
		writeError(w, hub, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+profileID+`.pb.gz"`)
	_, _ = w.Write(b.Bytes())
}
