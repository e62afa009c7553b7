package profileio

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/timeutil"
)

const (
	elementResults     = "profilingResults"
	elementMethodNames = "methodNames"
	elementMethodName  = "methodName"
	elementProfiles    = "profiles"
	elementProfile     = "profile"
	elementInvocation  = "invocation"

	attrID           = "id"
	attrName         = "name"
	attrThreadName   = "threadName"
	attrCreationTime = "creationTime"
	attrMetadata     = "metaData"
	attrMethodID     = "methodNameId"
	attrInvocations  = "invocations"
	attrTotalTime    = "totalTime"
)

var errDataIntegrity = fmt.Errorf("profileio: %w", errorutil.ErrDataIntegrity)

// Write encodes the registry and sessions as XML. Nothing is left buffered
// when it returns and any write error is returned.
func Write(w io.Writer, registry *method.Registry, sessions []*profile.Session) error {
	bw := bufio.NewWriter(w)
	enc := xml.NewEncoder(bw)
	x := xmlWriter{enc: enc}

	x.token(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)})
	x.start(elementResults)

	x.start(elementMethodNames)
	registry.Visit(func(i method.Identity) {
		x.start(elementMethodName,
			attr(attrID, strconv.FormatUint(uint64(i.ID), 10)),
			attr(attrName, i.String()),
		)
		x.end(elementMethodName)
	})
	x.end(elementMethodNames)

	x.start(elementProfiles)
	for _, s := range sessions {
		x.session(s)
	}
	x.end(elementProfiles)

	x.end(elementResults)
	if x.err != nil {
		return fmt.Errorf("profileio: couldn't encode profiles: %w", x.err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("profileio: couldn't flush encoder: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("profileio: couldn't flush writer: %w", err)
	}
	return nil
}

// WriteContainer writes every session of c.
func WriteContainer(w io.Writer, c *profile.Container) error {
	return Write(w, c.Registry, c.Sessions)
}

// WriteFile writes to path and returns close errors too. A partially
// written file is removed.
func WriteFile(path string, registry *method.Registry, sessions []*profile.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = Write(f, registry, sessions)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (x *xmlWriter) token(t xml.Token) {
	if x.err != nil {
		return
	}
	x.err = x.enc.EncodeToken(t)
}

func (x *xmlWriter) start(name string, attrs ...xml.Attr) {
	x.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (x *xmlWriter) end(name string) {
	x.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (x *xmlWriter) session(s *profile.Session) {
	attrs := []xml.Attr{
		attr(attrThreadName, s.ThreadName),
		attr(attrCreationTime, strconv.FormatInt(timeutil.New(s.CreationTime).Millis(), 10)),
	}
	if s.Metadata != "" {
		attrs = append(attrs, attr(attrMetadata, s.Metadata))
	}
	x.start(elementProfile, attrs...)
	if !s.Tree.Empty() {
		x.invocation(s.Tree, s.Tree.Root())
	}
	x.end(elementProfile)
}

func (x *xmlWriter) invocation(t *calltree.Tree, n calltree.NodeID) {
	node := t.Node(n)
	x.start(elementInvocation,
		attr(attrMethodID, strconv.FormatUint(uint64(node.MethodID), 10)),
		attr(attrInvocations, strconv.FormatUint(node.InvocationCount, 10)),
		attr(attrTotalTime, strconv.FormatFloat(node.TotalTimeMs, 'g', -1, 64)),
	)
	for _, c := range t.Children(n) {
		x.invocation(t, c)
	}
	x.end(elementInvocation)
}

// Read decodes a document written by Write into a new Container. The
// container's registry and sessions share nothing with any live profiler.
func Read(r io.Reader) (*profile.Container, error) {
	dec := xml.NewDecoder(bufio.NewReader(r))
	b := newBuilder()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("profileio: couldn't decode profiles: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = b.startElement(t)
		case xml.EndElement:
			err = b.endElement(t)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.container()
}

// ReadFile reads a profile file written by WriteFile.
func ReadFile(path string) (*profile.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

type builder struct {
	registry *method.Registry
	sessions []*profile.Session

	current *profile.Session
	stack   []calltree.NodeID
}

func newBuilder() *builder {
	return &builder{registry: method.NewRegistry()}
}

// requiredAttr returns the value of an attribute that must be present. The
// value itself may be empty.
func requiredAttr(e xml.StartElement, name string) (string, error) {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value, nil
		}
	}
	return "", fmt.Errorf("%w: <%s> lacks the %q attribute", errDataIntegrity, e.Name.Local, name)
}

func optionalAttr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseUint(e xml.StartElement, name string, bitSize int) (uint64, error) {
	s, err := requiredAttr(e, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: <%s %s=%q>: %v", errDataIntegrity, e.Name.Local, name, s, err)
	}
	return v, nil
}

func (b *builder) startElement(e xml.StartElement) error {
	switch e.Name.Local {
	case elementMethodName:
		return b.methodName(e)
	case elementProfile:
		return b.startSession(e)
	case elementInvocation:
		return b.startInvocation(e)
	}
	return nil
}

func (b *builder) endElement(e xml.EndElement) error {
	switch e.Name.Local {
	case elementProfile:
		if b.current == nil {
			return fmt.Errorf("%w: unexpected </%s>", errDataIntegrity, elementProfile)
		}
		b.sessions = append(b.sessions, b.current)
		b.current = nil
	case elementInvocation:
		if len(b.stack) == 0 {
			return fmt.Errorf("%w: unexpected </%s>", errDataIntegrity, elementInvocation)
		}
		b.stack = b.stack[:len(b.stack)-1]
	}
	return nil
}

func (b *builder) methodName(e xml.StartElement) error {
	id, err := parseUint(e, attrID, 32)
	if err != nil {
		return err
	}
	name, err := requiredAttr(e, attrName)
	if err != nil {
		return err
	}
	i, err := method.Parse(method.ID(id), name)
	if err != nil {
		return err
	}
	return b.registry.Register(i)
}

func (b *builder) startSession(e xml.StartElement) error {
	if b.current != nil {
		return fmt.Errorf("%w: nested <%s>", errDataIntegrity, elementProfile)
	}
	threadName, err := requiredAttr(e, attrThreadName)
	if err != nil {
		return err
	}
	var ms int64
	if s := optionalAttr(e, attrCreationTime); s != "" {
		ms, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: <%s %s=%q>: %v", errDataIntegrity, elementProfile, attrCreationTime, s, err)
		}
	}
	b.current = profile.NewSession(threadName, timeutil.FromMillis(ms).Time())
	b.current.Metadata = optionalAttr(e, attrMetadata)
	return nil
}

func (b *builder) startInvocation(e xml.StartElement) error {
	if b.current == nil {
		return fmt.Errorf("%w: <%s> outside of a <%s>", errDataIntegrity, elementInvocation, elementProfile)
	}
	id, err := parseUint(e, attrMethodID, 32)
	if err != nil {
		return err
	}
	count, err := parseUint(e, attrInvocations, 64)
	if err != nil {
		return err
	}
	s, err := requiredAttr(e, attrTotalTime)
	if err != nil {
		return err
	}
	total, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: <%s %s=%q>: %v", errDataIntegrity, elementInvocation, attrTotalTime, s, err)
	}
	if err := checkTotalTime(total); err != nil {
		return fmt.Errorf("%w: thread %q, method %d", err, b.current.ThreadName, id)
	}

	n, err := addNode(b.current.Tree, b.stack, method.ID(id))
	if err != nil {
		return fmt.Errorf("%w: thread %q", err, b.current.ThreadName)
	}
	node := b.current.Tree.Node(n)
	node.InvocationCount = count
	node.TotalTimeMs = total
	b.stack = append(b.stack, n)
	return nil
}

// checkTotalTime rejects times that no capture can produce.
func checkTotalTime(ms float64) error {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return fmt.Errorf("%w: invalid total time %v", errDataIntegrity, ms)
	}
	return nil
}

// addNode adds a node for id below the top of stack, or as the root when the
// stack is empty.
func addNode(t *calltree.Tree, stack []calltree.NodeID, id method.ID) (calltree.NodeID, error) {
	if len(stack) == 0 {
		n, err := t.AddRoot(id)
		if err != nil {
			return calltree.NoNode, fmt.Errorf("%w: more than one top level invocation", errDataIntegrity)
		}
		return n, nil
	}
	parent := stack[len(stack)-1]
	if _, exists := t.Child(parent, id); exists {
		return calltree.NoNode, fmt.Errorf("%w: duplicate invocation of method %d", errDataIntegrity, id)
	}
	return t.FindOrAddChild(parent, id), nil
}

func (b *builder) container() (*profile.Container, error) {
	if b.current != nil {
		return nil, fmt.Errorf("%w: unterminated <%s>", errDataIntegrity, elementProfile)
	}
	c := profile.NewContainer(b.registry, b.sessions)
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every method id used by the sessions of c is
// registered.
func Validate(c *profile.Container) error {
	for _, s := range c.Sessions {
		var err error
		s.Tree.Walk(s.Tree.Root(), func(n calltree.NodeID, _ int) {
			if err != nil {
				return
			}
			id := s.Tree.Node(n).MethodID
			if _, resolveErr := c.Registry.Resolve(id); resolveErr != nil {
				err = fmt.Errorf("%w: thread %q uses unknown method id %d", errDataIntegrity, s.ThreadName, id)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
