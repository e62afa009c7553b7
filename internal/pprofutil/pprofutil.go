package pprofutil

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
	pr "github.com/getsentry/calltrace/internal/profile"
)

const ThreadLabel = "thread"

type builder struct {
	registry  *method.Registry
	profile   *profile.Profile
	locations map[method.ID]*profile.Location
}

// FromContainer converts c into a pprof profile with two values per sample,
// the invocation count and the own time in nanoseconds of a call path.
// Samples are labeled with their thread name.
func FromContainer(c *pr.Container) (*profile.Profile, error) {
	b := &builder{
		registry: c.Registry,
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "invocations", Unit: "count"},
				{Type: "time", Unit: "nanoseconds"},
			},
			DefaultSampleType: "time",
			PeriodType:        &profile.ValueType{Type: "time", Unit: "nanoseconds"},
			Period:            1,
		},
		locations: make(map[method.ID]*profile.Location),
	}
	if ts := c.Timestamp(); !ts.IsZero() {
		b.profile.TimeNanos = ts.UnixNano()
	}
	for _, s := range c.Sessions {
		t := s.Tree
		if t.Empty() {
			continue
		}
		var err error
		t.Walk(t.Root(), func(n calltree.NodeID, _ int) {
			if err == nil {
				err = b.addSample(t, n, s.ThreadName)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	if err := b.profile.CheckValid(); err != nil {
		return nil, fmt.Errorf("pprofutil: %w", err)
	}
	return b.profile, nil
}

func (b *builder) addSample(t *calltree.Tree, n calltree.NodeID, thread string) error {
	node := t.Node(n)
	own := t.OwnTime(n)
	if own < 0 {
		own = 0
	}
	if node.InvocationCount == 0 && own == 0 {
		return nil
	}
	path := t.PathFromRoot(n)
	locations := make([]*profile.Location, 0, len(path))
	// leaf first
	for i := len(path) - 1; i >= 0; i-- {
		l, err := b.location(path[i])
		if err != nil {
			return err
		}
		locations = append(locations, l)
	}
	b.profile.Sample = append(b.profile.Sample, &profile.Sample{
		Location: locations,
		Value:    []int64{int64(node.InvocationCount), int64(own * 1e6)},
		Label:    map[string][]string{ThreadLabel: {thread}},
	})
	return nil
}

func (b *builder) location(id method.ID) (*profile.Location, error) {
	if l, exists := b.locations[id]; exists {
		return l, nil
	}
	identity, err := b.registry.Resolve(id)
	if err != nil {
		return nil, fmt.Errorf("pprofutil: %w", err)
	}
	f := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       identity.DisplayClassName() + "." + identity.MethodName,
		SystemName: identity.String(),
		Filename:   identity.ClassName,
		StartLine:  int64(identity.Line),
	}
	l := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: f, Line: int64(identity.Line)}},
	}
	b.profile.Function = append(b.profile.Function, f)
	b.profile.Location = append(b.profile.Location, l)
	b.locations[id] = l
	return l, nil
}

// Write encodes c as a gzipped pprof protobuf.
func Write(w io.Writer, c *pr.Container) error {
	p, err := FromContainer(c)
	if err != nil {
		return err
	}
	return p.Write(w)
}
