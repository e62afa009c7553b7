package main

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/calltrace/internal/hotspot"
	"github.com/getsentry/calltrace/internal/httputil"
	"github.com/getsentry/calltrace/internal/profile"
)

type GetMethodsResponse struct {
	Methods []hotspot.Method `json:"methods"`
}

// getMethods lists the methods of a profile with their aggregated calls,
// optionally for a single thread and ordered by the sort parameter.
func (env *environment) getMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	profileID := httprouter.ParamsFromContext(ctx).ByName("profile_id")
	queryParams := r.URL.Query()
	thread := queryParams.Get("thread")
	httputil.SetProfileTags(hub, profileID, thread)

	rawOrderBy := queryParams.Get("sort")
	if rawOrderBy == "" {
		rawOrderBy = "-own"
	}
	key, descending, err := hotspot.ParseSort(rawOrderBy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	limit, ok := httputil.GetPositiveIntQueryParameter(w, r, "limit", 0)
	if !ok {
		return
	}

	c, err := env.loadContainer(ctx, profileID)
	if err != nil {
		writeError(w, hub, err)
		return
	}
	sessions := c.Sessions
	if thread != "" {
		s, err := c.Session(thread)
		if err != nil {
			writeError(w, hub, err)
			return
		}
		sessions = []*profile.Session{s}
	}

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Aggregate methods"
	methods, err := hotspot.FromSessions(c.Registry, sessions)
	s.Finish()
	if err != nil {
		writeError(w, hub, err)
		return
	}
	hotspot.Sort(methods, key, descending)
	if limit > 0 && len(methods) > limit {
		methods = methods[:limit]
	}
	writeJSON(w, http.StatusOK, GetMethodsResponse{Methods: methods})
}
