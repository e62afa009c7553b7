package httputil

import (
	"strconv"

	"github.com/getsentry/sentry-go"
)

const (
	// HTTPStatusCodeTag is the name of the HTTP status code tag.
	HTTPStatusCodeTag = "http.response.status_code"

	ProfileIDTag  = "profile_id"
	ThreadNameTag = "thread_name"
)

// SetHTTPStatusCodeTag sets the status code tag for the current request to the top-level transaction.
func SetHTTPStatusCodeTag(e *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint == nil || hint.Response == nil {
		return e
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	if _, exists := e.Tags[HTTPStatusCodeTag]; !exists {
		e.Tags[HTTPStatusCodeTag] = strconv.Itoa(hint.Response.StatusCode)
	}
	return e
}

// SetProfileTags tags the scope of the request with the profile it reads,
// skipping empty values.
func SetProfileTags(hub *sentry.Hub, profileID, threadName string) {
	if hub == nil {
		return
	}
	scope := hub.Scope()
	if profileID != "" {
		scope.SetTag(ProfileIDTag, profileID)
	}
	if threadName != "" {
		scope.SetTag(ThreadNameTag, threadName)
	}
}
