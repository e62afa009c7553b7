package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/pprof/profile"
	"github.com/phayes/freeport"
	"github.com/pierrec/lz4/v4"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"golang.org/x/sync/semaphore"

	"github.com/getsentry/calltrace/internal/apiclient"
	"github.com/getsentry/calltrace/internal/flamegraph"
	"github.com/getsentry/calltrace/internal/method"
	pr "github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/profileio"
	"github.com/getsentry/calltrace/internal/speedscope"
	"github.com/getsentry/calltrace/internal/storageprovider"
	"github.com/getsentry/calltrace/internal/testutil"
)

var fileBlobBucket *blob.Bucket

func TestMain(m *testing.M) {
	temporaryDirectory, err := os.MkdirTemp(os.TempDir(), "calltrace-profiles-*")
	if err != nil {
		log.Fatalf("couldn't create a temporary directory: %s", err.Error())
	}

	fileBlobBucket, err = blob.OpenBucket(context.Background(), "file://localhost/"+temporaryDirectory)
	if err != nil {
		log.Fatalf("couldn't open a local filesystem bucket: %s", err.Error())
	}

	code := m.Run()

	if err := fileBlobBucket.Close(); err != nil {
		log.Printf("couldn't close the local filesystem bucket: %s", err.Error())
	}

	err = os.RemoveAll(temporaryDirectory)
	if err != nil {
		log.Printf("couldn't remove the temporary directory: %s", err.Error())
	}

	os.Exit(code)
}

type KafkaWriterMock struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (k *KafkaWriterMock) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.messages = append(k.messages, msgs...)
	return nil
}

func (k *KafkaWriterMock) Close() error {
	return nil
}

// nopCloser keeps the shared bucket open when an environment shuts down.
type nopCloser struct {
	*storageprovider.Blob
}

func (nopCloser) Close() error {
	return nil
}

func newTestEnvironment(t *testing.T, storage storageprovider.Provider) (*environment, *KafkaWriterMock, http.Handler) {
	t.Helper()
	writer := &KafkaWriterMock{}
	env := &environment{
		config: ServiceConfig{
			Environment:        "test",
			ProfilesKafkaTopic: "calltrace-profiles",
			RenderWidth:        300,
			RenderHeight:       120,
			RenderWorkers:      2,
		},
		profilingWriter: writer,
		storage:         storage,
		renders:         semaphore.NewWeighted(2),
		renderer:        flamegraph.NewRenderer(flamegraph.DefaultScheme),
		compare:         flamegraph.NewRenderer(flamegraph.CompareScheme),
	}
	router, err := env.newRouter()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return env, writer, router
}

// testContainer returns run calling work and idle, with work taking
// workMs out of 100ms.
func testContainer(t *testing.T, workMs float64) *pr.Container {
	t.Helper()
	registry := method.NewRegistry()
	for _, i := range []method.Identity{
		{ID: 0, ClassName: "com/example/App", MethodName: "run", Signature: "()V"},
		{ID: 1, ClassName: "com/example/App", MethodName: "work", Signature: "(I)V"},
		{ID: 2, ClassName: "com/example/App", MethodName: "idle", Signature: "()V"},
	} {
		if err := registry.Register(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	s := pr.NewSession("main", time.UnixMilli(1700000000000))
	root, _ := s.Tree.AddRoot(0)
	work := s.Tree.FindOrAddChild(root, 1)
	idle := s.Tree.FindOrAddChild(root, 2)
	s.Tree.Node(root).InvocationCount = 1
	s.Tree.Node(root).TotalTimeMs = 100
	s.Tree.Node(work).InvocationCount = 4
	s.Tree.Node(work).TotalTimeMs = workMs
	s.Tree.Node(idle).InvocationCount = 1
	s.Tree.Node(idle).TotalTimeMs = 100 - workMs
	s.Metadata = "description=checkout"
	return pr.NewContainer(registry, []*pr.Session{s})
}

func serve(handler http.Handler, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postProfile(t *testing.T, handler http.Handler, c *pr.Container) string {
	t.Helper()
	var b bytes.Buffer
	if err := profileio.WriteContainer(&b, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := serve(handler, http.MethodPost, "/profiles", b.Bytes(), http.Header{"Content-Type": {"application/xml"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status code %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var r PostProfileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r.ProfileID
}

func TestPostAndGetProfile(t *testing.T) {
	badgerDB, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name    string
		storage storageprovider.Provider
	}{
		{"Filesystem", nopCloser{&storageprovider.Blob{Bucket: fileBlobBucket}}},
		{"Memory", &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)}},
		{"Badger", &storageprovider.Badger{DB: badgerDB}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env, writer, router := newTestEnvironment(t, test.storage)
			defer env.shutdown()

			original := testContainer(t, 60)
			id := postProfile(t, router, original)
			if id == "" || id == original.ID {
				t.Fatalf("expected a new profile id, got %q", id)
			}

			if len(writer.messages) != 1 {
				t.Fatalf("expected one kafka message, got %d", len(writer.messages))
			}
			var m ProfileKafkaMessage
			if err := json.Unmarshal(writer.messages[0].Value, &m); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			wantMessage := ProfileKafkaMessage{
				Description: "checkout",
				Environment: "test",
				ID:          id,
				MethodCount: 3,
				Received:    m.Received,
				Threads:     []string{"main"},
				Timestamp:   1700000000,
			}
			if diff := testutil.Diff(m, wantMessage); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}

			want := profileio.ToDocument(original)
			want.ID = id

			w := serve(router, http.MethodGet, "/profiles/"+id, nil, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
			}
			fetched, err := profileio.ReadJSON(w.Body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := testutil.Diff(profileio.ToDocument(fetched), want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}

			w = serve(router, http.MethodGet, "/profiles/"+id, nil, http.Header{"Accept": {"application/xml"}})
			if ct := w.Header().Get("Content-Type"); ct != "application/xml" {
				t.Fatalf("expected XML, got %q", ct)
			}
			fetched, err = profileio.Read(w.Body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := testutil.Diff(profileio.ToDocument(fetched), want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}

			w = serve(router, http.MethodGet, "/profiles/"+id+"/raw", nil, nil)
			raw, err := io.ReadAll(lz4.NewReader(w.Body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var d profileio.Document
			if err := json.Unmarshal(raw, &d); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.ID != id {
				t.Fatalf("expected the stored document of %s, got %s", id, d.ID)
			}
		})
	}
}

func TestPostJSONProfile(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	var b bytes.Buffer
	if err := profileio.WriteJSON(&b, testContainer(t, 30)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := serve(router, http.MethodPost, "/profiles", b.Bytes(), http.Header{"Content-Type": {"application/json; charset=utf-8"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status code %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestErrors(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	id := postProfile(t, router, testContainer(t, 60))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"invalid XML", http.MethodPost, "/profiles", "<profilingResults><profiles>", http.StatusBadRequest},
		{"unknown method", http.MethodPost, "/profiles", `<profilingResults><methodNames></methodNames><profiles><profile threadName="main" creationTime="1"><invocation methodId="9" invocations="1" totalTimeMs="1"></invocation></profile></profiles></profilingResults>`, http.StatusBadRequest},
		{"missing profile", http.MethodGet, "/profiles/nope", "", http.StatusNotFound},
		{"missing raw profile", http.MethodGet, "/profiles/nope/raw", "", http.StatusNotFound},
		{"unknown thread", http.MethodGet, "/profiles/" + id + "/threads/worker/flamegraph", "", http.StatusNotFound},
		{"invalid width", http.MethodGet, "/profiles/" + id + "/threads/main/flamegraph?width=-1", "", http.StatusBadRequest},
		{"invalid zoom", http.MethodGet, "/profiles/" + id + "/threads/main/flamegraph?zoom=xyz", "", http.StatusBadRequest},
		{"unknown zoom", http.MethodGet, "/profiles/" + id + "/threads/main/regions?zoom=1", "", http.StatusNotFound},
		{"missing comparison", http.MethodGet, "/profiles/" + id + "/threads/main/regions?compare=nope", "", http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := serve(router, test.method, test.target, []byte(test.body), nil)
			if w.Code != test.want {
				t.Fatalf("expected status code %d, got %d: %s", test.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestFlamegraph(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	current := postProfile(t, router, testContainer(t, 60))
	previous := postProfile(t, router, testContainer(t, 40))

	w := serve(router, http.MethodGet, "/profiles/"+current+"/threads/main/flamegraph", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	cfg, err := png.DecodeConfig(w.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Width != 300 || cfg.Height != 120 {
		t.Fatalf("expected the default size, got %dx%d", cfg.Width, cfg.Height)
	}

	target := fmt.Sprintf("/profiles/%s/threads/main/regions?width=1000&height=300&compare=%s", current, previous)
	w = serve(router, http.MethodGet, target, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var regions []flamegraph.Region
	if err := json.Unmarshal(w.Body.Bytes(), &regions); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	type comparison struct {
		Label        string
		X, Width     int
		Delta        float64
		OverlayWidth int
	}
	var got []comparison
	for _, r := range regions {
		if r.Comparison == nil {
			t.Fatalf("expected a comparison for %+v", r)
		}
		got = append(got, comparison{r.Label, r.X, r.Width, r.Comparison.Delta, r.Comparison.OverlayWidth})
	}
	want := []comparison{
		{"App.run", 0, 1000, 0, 0},
		{"App.work", 0, 600, 20, 120},
		{"App.idle", 600, 400, -20, 80},
	}
	if diff := testutil.Diff(got, want, testutil.ApproxFloat(1e-9)); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestExports(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	id := postProfile(t, router, testContainer(t, 60))

	w := serve(router, http.MethodGet, "/profiles/"+id+"/speedscope", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var o speedscope.Output
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ProfileID != id || len(o.Profiles) != 1 {
		t.Fatalf("unexpected speedscope output %+v", o)
	}

	w = serve(router, http.MethodGet, "/profiles/"+id+"/pprof", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d, got %d", http.StatusOK, w.Code)
	}
	p, err := profile.Parse(w.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Sample) != 3 {
		t.Fatalf("expected a sample per call, got %d", len(p.Sample))
	}
}

func TestMethods(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	id := postProfile(t, router, testContainer(t, 70))

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"App.work", "App.idle", "App.run"}},
		{"?sort=invocations&limit=2", []string{"App.run", "App.idle"}},
		{"?thread=main&sort=-total", []string{"App.run", "App.work", "App.idle"}},
	}
	for _, test := range tests {
		t.Run(test.query, func(t *testing.T) {
			w := serve(router, http.MethodGet, "/profiles/"+id+"/methods"+test.query, nil, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
			}
			var r GetMethodsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []string
			for _, m := range r.Methods {
				got = append(got, m.Name)
			}
			if diff := testutil.Diff(got, test.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}

	for _, query := range []string{"?sort=name", "?limit=0", "?thread=worker"} {
		w := serve(router, http.MethodGet, "/profiles/"+id+"/methods"+query, nil, nil)
		if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected an error status, got %d", query, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	_, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	if w := serve(router, http.MethodGet, "/health", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected status code %d, got %d", http.StatusNoContent, w.Code)
	}
}

func TestServeWithClient(t *testing.T) {
	env, _, router := newTestEnvironment(t, &storageprovider.Blob{Bucket: memblob.OpenBucket(nil)})
	defer env.shutdown()

	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("couldn't get a free port: %v", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("couldn't listen on %s: %v", addr, err)
	}
	server := http.Server{Handler: router, ReadHeaderTimeout: time.Second}
	go func() {
		_ = server.Serve(l)
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	client, err := apiclient.NewClient("http://"+addr, 5*time.Second, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	original := testContainer(t, 75)
	id, err := client.Upload(ctx, original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetched, err := client.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := profileio.ToDocument(original)
	want.ID = id
	if diff := testutil.Diff(profileio.ToDocument(fetched), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("CALLTRACE_CONFIG", "")
	t.Setenv("CALLTRACE_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	c, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ServiceConfig{
		Environment:           "development",
		Port:                  "8080",
		LogLevel:              "info",
		ProfilesStorage:       "badger:///tmp/calltrace-profiles",
		ProfilingKafkaBrokers: []string{"kafka-1:9092", "kafka-2:9092"},
		ProfilesKafkaTopic:    "calltrace-profiles",
		RenderWidth:           1200,
		RenderHeight:          600,
		RenderWorkers:         4,
	}
	// Variables set outside of the test would leak in.
	want.Environment, want.SentryDSN, want.Port, want.LogLevel = c.Environment, c.SentryDSN, c.Port, c.LogLevel
	if diff := testutil.Diff(c, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "calltrace.yml")
	yml := "profiles_storage: mem://\nrender_width: 640\nrender_workers: 1\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("CALLTRACE_CONFIG", path)
	t.Setenv("CALLTRACE_RENDER_WORKERS", "3")
	c, err = loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ProfilesStorage != "mem://" || c.RenderWidth != 640 || c.RenderHeight != 600 || c.RenderWorkers != 3 {
		t.Fatalf("unexpected config %+v", c)
	}

	env, err := newEnvironment(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.profilingWriter == nil {
		t.Fatal("expected a kafka writer with brokers set")
	}
	env.shutdown()
}
