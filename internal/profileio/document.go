package profileio

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/timeutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// Document is the JSON form of a Container, with the same content as
	// the XML format.
	Document struct {
		ID          string            `json:"id"`
		MethodNames []MethodName      `json:"method_names"`
		Profiles    []ProfileDocument `json:"profiles"`
	}

	MethodName struct {
		ID   method.ID `json:"id"`
		Name string    `json:"name"`
	}

	ProfileDocument struct {
		ThreadName   string        `json:"thread_name"`
		CreationTime timeutil.Time `json:"creation_time"`
		Metadata     string        `json:"metadata,omitempty"`
		Root         *Invocation   `json:"root,omitempty"`
	}

	Invocation struct {
		MethodID    method.ID     `json:"method_id"`
		Invocations uint64        `json:"invocations"`
		TotalTimeMs float64       `json:"total_time_ms"`
		Children    []*Invocation `json:"children,omitempty"`
	}
)

func ToDocument(c *profile.Container) Document {
	d := Document{
		ID:          c.ID,
		MethodNames: make([]MethodName, 0, c.Registry.Len()),
		Profiles:    make([]ProfileDocument, 0, len(c.Sessions)),
	}
	c.Registry.Visit(func(i method.Identity) {
		d.MethodNames = append(d.MethodNames, MethodName{ID: i.ID, Name: i.String()})
	})
	for _, s := range c.Sessions {
		p := ProfileDocument{
			ThreadName:   s.ThreadName,
			CreationTime: timeutil.New(s.CreationTime),
			Metadata:     s.Metadata,
		}
		if !s.Tree.Empty() {
			p.Root = toInvocation(s.Tree, s.Tree.Root())
		}
		d.Profiles = append(d.Profiles, p)
	}
	return d
}

func toInvocation(t *calltree.Tree, n calltree.NodeID) *Invocation {
	node := t.Node(n)
	i := &Invocation{
		MethodID:    node.MethodID,
		Invocations: node.InvocationCount,
		TotalTimeMs: node.TotalTimeMs,
	}
	for _, c := range t.Children(n) {
		i.Children = append(i.Children, toInvocation(t, c))
	}
	return i
}

// FromDocument builds a new Container from d, keeping its id when set.
func FromDocument(d Document) (*profile.Container, error) {
	registry := method.NewRegistry()
	for _, m := range d.MethodNames {
		i, err := method.Parse(m.ID, m.Name)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(i); err != nil {
			return nil, err
		}
	}
	sessions := make([]*profile.Session, 0, len(d.Profiles))
	for _, p := range d.Profiles {
		s := profile.NewSession(p.ThreadName, p.CreationTime.Time())
		s.Metadata = p.Metadata
		if p.Root != nil {
			if err := addInvocation(s.Tree, nil, p.Root); err != nil {
				return nil, fmt.Errorf("%w: thread %q", err, p.ThreadName)
			}
		}
		sessions = append(sessions, s)
	}
	c := profile.NewContainer(registry, sessions)
	if d.ID != "" {
		c.ID = d.ID
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func addInvocation(t *calltree.Tree, stack []calltree.NodeID, i *Invocation) error {
	if err := checkTotalTime(i.TotalTimeMs); err != nil {
		return fmt.Errorf("%w: method %d", err, i.MethodID)
	}
	n, err := addNode(t, stack, i.MethodID)
	if err != nil {
		return err
	}
	node := t.Node(n)
	node.InvocationCount = i.Invocations
	node.TotalTimeMs = i.TotalTimeMs
	stack = append(stack, n)
	for _, c := range i.Children {
		if c == nil {
			continue
		}
		if err := addInvocation(t, stack, c); err != nil {
			return err
		}
	}
	return nil
}

func WriteJSON(w io.Writer, c *profile.Container) error {
	return json.NewEncoder(w).Encode(ToDocument(c))
}

func ReadJSON(r io.Reader) (*profile.Container, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("profileio: couldn't decode document: %w", err)
	}
	return FromDocument(d)
}
