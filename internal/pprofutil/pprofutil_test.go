package pprofutil

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"github.com/getsentry/calltrace/internal/method"
	pr "github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/testutil"
)

func testContainer(t *testing.T) *pr.Container {
	t.Helper()
	registry := method.NewRegistry()
	for _, i := range []method.Identity{
		{ID: 0, ClassName: "com/example/App", MethodName: "run", Signature: "()V"},
		{ID: 1, ClassName: "com/example/App", MethodName: "load", Signature: "(I)V", Line: 12},
	} {
		if err := registry.Register(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	var sessions []*pr.Session
	for _, name := range []string{"worker-1", "worker-2"} {
		s := pr.NewSession(name, time.UnixMilli(1700000000000))
		root, _ := s.Tree.AddRoot(0)
		load := s.Tree.FindOrAddChild(root, 1)
		s.Tree.Node(root).InvocationCount = 1
		s.Tree.Node(root).TotalTimeMs = 10
		s.Tree.Node(load).InvocationCount = 3
		s.Tree.Node(load).TotalTimeMs = 7.5
		sessions = append(sessions, s)
	}
	return pr.NewContainer(registry, sessions)
}

type sample struct {
	Thread string
	Stack  string
	Values []int64
}

func TestWriteAndParse(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testContainer(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TimeNanos != time.UnixMilli(1700000000000).UnixNano() {
		t.Fatalf("unexpected profile time %d", p.TimeNanos)
	}

	var got []sample
	for _, s := range p.Sample {
		var frames []string
		for _, l := range s.Location {
			frames = append(frames, l.Line[0].Function.Name)
		}
		got = append(got, sample{
			Thread: s.Label[ThreadLabel][0],
			Stack:  strings.Join(frames, ";"),
			Values: s.Value,
		})
	}
	sort.SliceStable(got, func(i, j int) bool {
		return got[i].Thread < got[j].Thread
	})
	want := []sample{
		{"worker-1", "com.example.App.run", []int64{1, 2500000}},
		{"worker-1", "com.example.App.load;com.example.App.run", []int64{3, 7500000}},
		{"worker-2", "com.example.App.run", []int64{1, 2500000}},
		{"worker-2", "com.example.App.load;com.example.App.run", []int64{3, 7500000}},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if len(p.Function) != 2 || len(p.Location) != 2 {
		t.Fatalf("expected functions and locations to be shared, got %d and %d", len(p.Function), len(p.Location))
	}
}

func TestUnknownMethod(t *testing.T) {
	c := testContainer(t)
	c.Registry = method.NewRegistry()
	if _, err := FromContainer(c); err == nil {
		t.Fatal("expected an error for methods missing from the registry")
	}
}
