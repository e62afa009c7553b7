package pathresolver

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
)

// Translate maps a call path expressed in the method ids of from to the ids
// used by to. Line numbers are only used to tell overloads apart.
func Translate(path []method.ID, from, to *method.Registry) ([]method.ID, error) {
	translated := make([]method.ID, 0, len(path))
	for _, id := range path {
		identity, err := from.Resolve(id)
		if err != nil {
			return nil, err
		}
		ignoreLineNumber := !to.IsOverloaded(identity)
		other, err := to.ResolveID(identity, ignoreLineNumber)
		if err != nil {
			return nil, err
		}
		translated = append(translated, other)
	}
	return translated, nil
}

// Resolver finds the node of a previous capture that corresponds to a node
// of the current one, by call path.
type Resolver struct {
	Current          *calltree.Tree
	CurrentRegistry  *method.Registry
	Previous         *calltree.Tree
	PreviousRegistry *method.Registry
}

// Counterpart returns the node of the previous tree reached through the same
// call path as n. Paths missing from the previous tree yield an error
// wrapping errorutil.ErrNotFound.
func (r *Resolver) Counterpart(n calltree.NodeID) (calltree.NodeID, error) {
	path, err := Translate(r.Current.PathFromRoot(n), r.CurrentRegistry, r.PreviousRegistry)
	if err != nil {
		return calltree.NoNode, fmt.Errorf("pathresolver: %w", err)
	}
	other, err := r.Previous.LookupByPath(path)
	if err != nil {
		return calltree.NoNode, fmt.Errorf("pathresolver: %w", err)
	}
	return other, nil
}

// PreviousPercentage returns the share of its parent's time the counterpart
// of n had in the previous capture.
func (r *Resolver) PreviousPercentage(n calltree.NodeID) (float64, error) {
	other, err := r.Counterpart(n)
	if err != nil {
		return 0, err
	}
	return r.Previous.PercentageOfParent(other), nil
}

// Delta returns how many percentage points of its parent's time n gained
// since the previous capture.
func (r *Resolver) Delta(n calltree.NodeID) (float64, error) {
	previous, err := r.PreviousPercentage(n)
	if err != nil {
		return 0, err
	}
	return r.Current.PercentageOfParent(n) - previous, nil
}

// Fingerprint hashes the identities along the path from the root to n,
// without line numbers. Unlike node and method ids, it is stable across
// captures.
func Fingerprint(t *calltree.Tree, registry *method.Registry, n calltree.NodeID) (uint64, error) {
	var b strings.Builder
	for _, id := range t.PathFromRoot(n) {
		identity, err := registry.Resolve(id)
		if err != nil {
			return 0, fmt.Errorf("pathresolver: %w", err)
		}
		b.WriteString(identity.ClassName)
		b.WriteByte('|')
		b.WriteString(identity.MethodName)
		b.WriteByte('|')
		b.WriteString(identity.Signature)
		b.WriteByte(0)
	}
	return xxh3.HashString(b.String()), nil
}

// FindByFingerprint returns the node of t whose fingerprint is fp.
func FindByFingerprint(t *calltree.Tree, registry *method.Registry, fp uint64) (calltree.NodeID, error) {
	found := calltree.NoNode
	var err error
	t.Walk(t.Root(), func(n calltree.NodeID, _ int) {
		if found != calltree.NoNode || err != nil {
			return
		}
		var got uint64
		got, err = Fingerprint(t, registry, n)
		if err == nil && got == fp {
			found = n
		}
	})
	if err != nil {
		return calltree.NoNode, err
	}
	if found == calltree.NoNode {
		return calltree.NoNode, fmt.Errorf("pathresolver: %w: no node with fingerprint %x", errorutil.ErrNotFound, fp)
	}
	return found, nil
}
