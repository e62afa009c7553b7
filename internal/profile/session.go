package profile

import (
	"fmt"
	"time"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/metadata"
	"github.com/getsentry/calltrace/internal/method"
)

var errExitWithoutEnter = fmt.Errorf("profile: %w: method left without a matching enter", errorutil.ErrContractViolation)

type (
	// Thread identifies the thread of execution calling the hooks.
	Thread struct {
		ID   uint64
		Name string
	}

	// Session holds the call tree captured for one thread.
	Session struct {
		ThreadName   string
		CreationTime time.Time
		// Metadata is kept in its encoded form so that it survives a
		// save/load cycle unchanged.
		Metadata string
		Tree     *calltree.Tree

		cursor calltree.NodeID
	}

	// AncestorRecovery reconstructs the instrumented callers of a method
	// entered while no call was active on the thread, which happens when
	// capture starts in the middle of a call.
	AncestorRecovery interface {
		// Ancestors returns the enclosing instrumented methods, outermost
		// first, not including id itself.
		Ancestors(id method.ID) []method.ID
	}
)

func NewSession(threadName string, creationTime time.Time) *Session {
	return &Session{
		ThreadName:   threadName,
		CreationTime: creationTime,
		Tree:         calltree.NewTree(),
		cursor:       calltree.NoNode,
	}
}

// Active reports whether a call is in flight.
func (s *Session) Active() bool {
	return s.cursor != calltree.NoNode
}

// Cursor returns the node of the innermost active call.
func (s *Session) Cursor() calltree.NodeID {
	return s.cursor
}

// Enter records a call to id. recovery may be nil.
func (s *Session) Enter(id method.ID, nowNS int64, recovery AncestorRecovery) {
	t := s.Tree
	var n calltree.NodeID
	switch {
	case s.cursor != calltree.NoNode:
		n = t.FindOrAddChild(s.cursor, id)
	case t.Empty():
		n = s.addRoot(id, nowNS, recovery)
	case t.Node(t.Root()).MethodID == id:
		n = t.Root()
	default:
		n = t.FindOrAddChild(t.Root(), id)
	}
	t.Begin(n, nowNS)
	s.cursor = n
}

func (s *Session) addRoot(id method.ID, nowNS int64, recovery AncestorRecovery) calltree.NodeID {
	t := s.Tree
	var ancestors []method.ID
	if recovery != nil {
		ancestors = recovery.Ancestors(id)
	}
	if len(ancestors) == 0 {
		root, _ := t.AddRoot(id)
		return root
	}
	// Recovered callers are counted once and timed from now on, their real
	// start is unknown.
	n, _ := t.AddRoot(ancestors[0])
	t.Begin(n, nowNS)
	for _, a := range ancestors[1:] {
		n = t.FindOrAddChild(n, a)
		t.Begin(n, nowNS)
	}
	return t.FindOrAddChild(n, id)
}

// Exit records the return of the innermost active call.
func (s *Session) Exit(nowNS int64) error {
	if s.cursor == calltree.NoNode {
		return fmt.Errorf("%w: thread %q", errExitWithoutEnter, s.ThreadName)
	}
	s.cursor = s.Tree.End(s.cursor, nowNS)
	return nil
}

// MetadataMap decodes Metadata.
func (s *Session) MetadataMap() (metadata.Map, error) {
	return metadata.Parse(s.Metadata)
}

// MergeMetadata adds the entries of m to the session metadata.
func (s *Session) MergeMetadata(m metadata.Map) error {
	current, err := s.MetadataMap()
	if err != nil {
		return err
	}
	current.Merge(m)
	s.Metadata = current.String()
	return nil
}

// Description returns the description stored in the metadata, if any.
func (s *Session) Description() string {
	m, err := s.MetadataMap()
	if err != nil {
		return ""
	}
	return m.Description()
}

// Clear drops the captured tree.
func (s *Session) Clear() {
	epsilon := s.Tree.Epsilon()
	s.Tree = calltree.NewTree()
	s.Tree.SetEpsilon(epsilon)
	s.cursor = calltree.NoNode
}

// Clone returns a copy of the session that is no longer capturing.
func (s *Session) Clone() *Session {
	return &Session{
		ThreadName:   s.ThreadName,
		CreationTime: s.CreationTime,
		Metadata:     s.Metadata,
		Tree:         s.Tree.Clone(),
		cursor:       calltree.NoNode,
	}
}
