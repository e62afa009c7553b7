package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/flamegraph"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/profileio"
	"github.com/getsentry/calltrace/internal/storageutil"
)

type errorResponse struct {
	Error string `json:"error"`
}

func storagePath(profileID string) string {
	return "profiles/" + profileID + ".json"
}

func (e *environment) storeContainer(ctx context.Context, c *profile.Container) error {
	return storageutil.CompressedWrite(ctx, e.storage, storagePath(c.ID), profileio.ToDocument(c))
}

func (e *environment) loadContainer(ctx context.Context, profileID string) (*profile.Container, error) {
	s := sentry.StartSpan(ctx, "storage.read")
	s.Description = "Read profile from storage"
	defer s.Finish()
	var d profileio.Document
	if err := storageutil.UnmarshalCompressed(ctx, e.storage, storagePath(profileID), &d); err != nil {
		return nil, err
	}
	return profileio.FromDocument(d)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errorutil.ErrNotFound), errors.Is(err, storageutil.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorutil.ErrAmbiguous):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flamegraph.ErrInvalidSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with the status it maps to. Only server errors are
// sent to Sentry.
func writeError(w http.ResponseWriter, hub *sentry.Hub, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		if hub != nil {
			hub.CaptureException(err)
		}
		log.Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
