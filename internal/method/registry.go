package method

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/calltrace/internal/errorutil"
)

type (
	// Registry maps method ids to identities and back. Methods are
	// registered once, from any goroutine, and read many times afterwards.
	Registry struct {
		mu sync.RWMutex

		byID map[ID]Identity
		// class name -> method name -> ids, in registration order
		byName map[string]map[string][]ID
	}
)

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ID]Identity),
		byName: make(map[string]map[string][]ID),
	}
}

// Register adds an identity. Registering an identical identity twice is a
// no-op; registering a different identity under a known id is an error.
func (r *Registry) Register(i Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[i.ID]; ok {
		if existing.Matches(i) {
			return nil
		}
		return fmt.Errorf(
			"method: %w: id %d already registered as %q, got %q",
			errorutil.ErrDataIntegrity,
			i.ID,
			existing.String(),
			i.String(),
		)
	}
	r.byID[i.ID] = i
	methods, ok := r.byName[i.ClassName]
	if !ok {
		methods = make(map[string][]ID)
		r.byName[i.ClassName] = methods
	}
	methods[i.MethodName] = append(methods[i.MethodName], i.ID)
	return nil
}

// Resolve returns the identity registered under id.
func (r *Registry) Resolve(id ID) (Identity, error) {
	r.mu.RLock()
	i, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Identity{}, fmt.Errorf("method: %w: unknown method id %d", errorutil.ErrNotFound, id)
	}
	return i, nil
}

// ResolveID finds the id this registry uses for the method described by
// query. If the method is not overloaded the only candidate is returned,
// otherwise the signature (and the line number, unless ignoreLineNumber is
// set) must single out exactly one candidate.
func (r *Registry) ResolveID(query Identity, ignoreLineNumber bool) (ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidatesLocked(query.ClassName, query.MethodName)
	switch len(candidates) {
	case 0:
		return 0, fmt.Errorf("method: %w: can't resolve %q", errorutil.ErrNotFound, query.String())
	case 1:
		return candidates[0].ID, nil
	}

	matches := make([]Identity, 0, len(candidates))
	for _, c := range candidates {
		if c.Signature == query.Signature {
			matches = append(matches, c)
		}
	}
	if !ignoreLineNumber && query.HasLineNumber() && len(matches) > 0 {
		sameLine := matches[:0:0]
		for _, c := range matches {
			if c.Line == query.Line {
				sameLine = append(sameLine, c)
			}
		}
		if len(sameLine) == 0 {
			return 0, fmt.Errorf("method: %w: can't resolve %q", errorutil.ErrNotFound, query.String())
		}
		matches = sameLine
	}
	if len(matches) == 1 {
		return matches[0].ID, nil
	}
	logCandidates(query, candidates)
	return 0, fmt.Errorf(
		"method: %w: %q matches %d overloaded methods",
		errorutil.ErrAmbiguous,
		query.String(),
		len(candidates),
	)
}

// IsOverloaded reports whether more than one method with the same class and
// method name is registered.
func (r *Registry) IsOverloaded(i Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[i.ClassName][i.MethodName]) > 1
}

// LookupFrame resolves a native stack frame. When the method is overloaded
// the frame's line number has to match the line of one of the overloads.
func (r *Registry) LookupFrame(f Frame) (ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidatesLocked(f.ClassName, f.MethodName)
	switch len(candidates) {
	case 0:
		return 0, fmt.Errorf("method: %w: no method %s.%s", errorutil.ErrNotFound, f.ClassName, f.MethodName)
	case 1:
		return candidates[0].ID, nil
	}
	for _, c := range candidates {
		if c.HasLineNumber() && c.Line == f.Line {
			return c.ID, nil
		}
	}
	query := Identity{ClassName: f.ClassName, MethodName: f.MethodName, Line: f.Line}
	logCandidates(query, candidates)
	return 0, fmt.Errorf(
		"method: %w: no overload of %s.%s starts at line %d",
		errorutil.ErrAmbiguous,
		f.ClassName,
		f.MethodName,
		f.Line,
	)
}

// All returns every registered identity ordered by id.
func (r *Registry) All() []Identity {
	r.mu.RLock()
	identities := make([]Identity, 0, len(r.byID))
	for _, i := range r.byID {
		identities = append(identities, i)
	}
	r.mu.RUnlock()
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].ID < identities[j].ID
	})
	return identities
}

// Visit calls fn for every registered identity, ordered by id.
func (r *Registry) Visit(fn func(Identity)) {
	for _, i := range r.All() {
		fn(i)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns an independent copy of the registry.
func (r *Registry) Snapshot() *Registry {
	s := NewRegistry()
	for _, i := range r.All() {
		_ = s.Register(i)
	}
	return s
}

func (r *Registry) candidatesLocked(className, methodName string) []Identity {
	ids := r.byName[className][methodName]
	candidates := make([]Identity, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, r.byID[id])
	}
	return candidates
}

func logCandidates(query Identity, candidates []Identity) {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, fmt.Sprintf("%d=%s", c.ID, c.String()))
	}
	log.Warn().
		Str("method", query.String()).
		Str("candidates", strings.Join(names, ", ")).
		Msg("ambiguous method resolution")
}
