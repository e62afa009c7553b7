package main

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/calltrace/internal/httputil"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/profileio"
	"github.com/getsentry/calltrace/internal/storageutil"
)

type PostProfileResponse struct {
	ProfileID string `json:"profile_id"`
}

func isJSON(contentType string) bool {
	t, _, err := mime.ParseMediaType(contentType)
	return err == nil && (t == "application/json" || strings.HasSuffix(t, "+json"))
}

func (env *environment) postProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		writeError(w, hub, err)
		return
	}

	s = sentry.StartSpan(ctx, "profile.decode")
	var c *profile.Container
	if isJSON(r.Header.Get("Content-Type")) {
		s.Description = "Decode JSON profile"
		c, err = profileio.ReadJSON(bytes.NewReader(body))
	} else {
		s.Description = "Decode XML profile"
		c, err = profileio.Read(bytes.NewReader(body))
	}
	s.Finish()
	if err != nil {
		log.Debug().Err(err).Msg("profile can't be decoded")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.ID = uuid.New().String()
	httputil.SetProfileTags(hub, c.ID, "")

	s = sentry.StartSpan(ctx, "storage.write")
	s.Description = "Write profile to storage"
	err = env.storeContainer(ctx, c)
	s.Finish()
	if err != nil {
		writeError(w, hub, err)
		return
	}

	if env.profilingWriter != nil {
		s = sentry.StartSpan(ctx, "json.marshal")
		s.Description = "Marshal profile Kafka message"
		b, err := json.Marshal(buildProfileKafkaMessage(c, env.config.Environment, time.Now().Unix()))
		s.Finish()
		if err != nil {
			writeError(w, hub, err)
			return
		}
		s = sentry.StartSpan(ctx, "processing")
		s.Description = "Send profile to Kafka"
		err = env.profilingWriter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(c.ID),
			Topic: env.config.ProfilesKafkaTopic,
			Value: b,
		})
		s.Finish()
		if err != nil && hub != nil {
			hub.CaptureException(err)
		}
	}

	log.Info().Str("profile_id", c.ID).Int("threads", c.Len()).Msg("profile stored")
	writeJSON(w, http.StatusCreated, PostProfileResponse{ProfileID: c.ID})
}

// getProfile returns the stored profile as JSON, or XML when the client
// accepts it and not JSON.
func (env *environment) getProfile(w http.ResponseWriter, r *http.Request) {
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
	accept := r.Header.Get("Accept")
	contentType := "application/json"
	if strings.Contains(accept, "xml") && !strings.Contains(accept, "json") {
		contentType = "application/xml"
		err = profileio.WriteContainer(&b, c)
	} else {
		err = profileio.WriteJSON(&b, c)
	}
	if err != nil {
		writeError(w, hub, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(b.Bytes())
}

// getRawProfile returns the stored object as is, lz4 compressed.
func (env *environment) getRawProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	profileID := httprouter.ParamsFromContext(ctx).ByName("profile_id")
	httputil.SetProfileTags(hub, profileID, "")

	b, err := storageutil.ReadRaw(ctx, env.storage, storagePath(profileID))
	if err != nil {
		writeError(w, hub, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-lz4")
	_, _ = w.Write(b)
}
