package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/getsentry/calltrace/internal/flamegraph"
	"github.com/getsentry/calltrace/internal/httputil"
	"github.com/getsentry/calltrace/internal/logutil"
	"github.com/getsentry/calltrace/internal/storageprovider"
)

type environment struct {
	config ServiceConfig

	profilingWriter KafkaWriter

	storage storageprovider.Provider

	renders  *semaphore.Weighted
	renderer *flamegraph.Renderer
	compare  *flamegraph.Renderer
}

var release string

func newEnvironment(ctx context.Context, config ServiceConfig) (*environment, error) {
	if config.RenderWidth <= 0 || config.RenderHeight <= 0 {
		return nil, fmt.Errorf("invalid default render size %dx%d", config.RenderWidth, config.RenderHeight)
	}
	if config.RenderWorkers <= 0 {
		return nil, fmt.Errorf("render workers should be positive, got %d", config.RenderWorkers)
	}
	e := environment{
		config:   config,
		renders:  semaphore.NewWeighted(int64(config.RenderWorkers)),
		renderer: flamegraph.NewRenderer(flamegraph.DefaultScheme),
		compare:  flamegraph.NewRenderer(flamegraph.CompareScheme),
	}
	var err error
	e.storage, err = storageprovider.Open(ctx, config.ProfilesStorage)
	if err != nil {
		return nil, err
	}
	if len(config.ProfilingKafkaBrokers) > 0 {
		e.profilingWriter = newKafkaWriter(config.ProfilingKafkaBrokers, config.ProfilesKafkaTopic)
	}
	return &e, nil
}

func (e *environment) shutdown() {
	err := e.storage.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	if e.profilingWriter != nil {
		err = e.profilingWriter.Close()
		if err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodPost, "/profiles", e.postProfile},
		{http.MethodGet, "/profiles/:profile_id", e.getProfile},
		{http.MethodGet, "/profiles/:profile_id/methods", e.getMethods},
		{http.MethodGet, "/profiles/:profile_id/raw", e.getRawProfile},
		{http.MethodGet, "/profiles/:profile_id/speedscope", e.getSpeedscope},
		{http.MethodGet, "/profiles/:profile_id/pprof", e.getPprof},
		{http.MethodGet, "/profiles/:profile_id/threads/:thread_name/flamegraph", e.getFlamegraph},
		{http.MethodGet, "/profiles/:profile_id/threads/:thread_name/regions", e.getRegions},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func main() {
	config, err := loadConfig()
	if err != nil {
		logutil.ConfigureLogger("info")
		log.Fatal().Err(err).Msg("error reading the service config")
	}
	logutil.ConfigureLogger(config.LogLevel)

	env, err := newEnvironment(context.Background(), config)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		BeforeSendTransaction: httputil.SetHTTPStatusCodeTag,
		Dsn:                   env.config.SentryDSN,
		EnableTracing:         true,
		Environment:           env.config.Environment,
		Release:               release,
		TracesSampleRate:      1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:              ":" + env.config.Port,
		Handler:           sentryhttp.New(sentryhttp.Options{}).Handle(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	log.Info().Str("addr", server.Addr).Str("storage", env.config.ProfilesStorage).Msg("calltrace listening")
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
