package hotspot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/quantile"
)

type (
	// Method sums up every call site of a method across the sessions.
	Method struct {
		ID          method.ID `json:"method_id"`
		Name        string    `json:"name"`
		Signature   string    `json:"signature"`
		Invocations uint64    `json:"invocations"`
		OwnTimeMs   float64   `json:"own_time_ms"`
		// TotalTimeMs only counts the outermost call of recursive calls.
		TotalTimeMs float64 `json:"total_time_ms"`
		CallSites   int     `json:"call_sites"`
		Threads     int     `json:"threads"`
		// OwnTimePerCallMs is the distribution of the average own time at
		// each call site, weighted by its invocations.
		OwnTimePerCallMs Percentiles `json:"own_time_per_call_ms"`
	}

	Percentiles struct {
		P50 float64 `json:"p50"`
		P90 float64 `json:"p90"`
		P99 float64 `json:"p99"`
	}

	SortKey string

	accumulator struct {
		Method
		perCall     quantile.Quantile
		lastSession int
	}
)

const (
	SortOwnTime     SortKey = "own"
	SortTotalTime   SortKey = "total"
	SortInvocations SortKey = "invocations"
	SortP90         SortKey = "p90"
)

var legalSortKeys = map[SortKey]struct{}{
	SortOwnTime:     {},
	SortTotalTime:   {},
	SortInvocations: {},
	SortP90:         {},
}

// ParseSort reads a sort key, descending when prefixed with "-".
func ParseSort(raw string) (SortKey, bool, error) {
	descending := strings.HasPrefix(raw, "-")
	key := SortKey(strings.TrimPrefix(raw, "-"))
	if _, exists := legalSortKeys[key]; !exists {
		return "", false, fmt.Errorf("unknown sort: %s", raw)
	}
	return key, descending, nil
}

func FromContainer(c *profile.Container) ([]Method, error) {
	return FromSessions(c.Registry, c.Sessions)
}

// FromSessions aggregates the calls of every session by method, ordered by
// descending own time.
func FromSessions(registry *method.Registry, sessions []*profile.Session) ([]Method, error) {
	methods := make(map[method.ID]*accumulator)
	var err error
	for i, s := range sessions {
		t := s.Tree
		var stack []method.ID
		t.Walk(t.Root(), func(n calltree.NodeID, depth int) {
			if err != nil {
				return
			}
			node := t.Node(n)
			stack = append(stack[:depth], node.MethodID)
			a, exists := methods[node.MethodID]
			if !exists {
				var identity method.Identity
				identity, err = registry.Resolve(node.MethodID)
				if err != nil {
					err = fmt.Errorf("hotspot: thread %q: %w", s.ThreadName, err)
					return
				}
				a = &accumulator{
					Method: Method{
						ID:        node.MethodID,
						Name:      identity.SimpleClassName() + "." + identity.DisplayMethodName(),
						Signature: identity.Signature,
					},
					lastSession: -1,
				}
				methods[node.MethodID] = a
			}
			a.Invocations += node.InvocationCount
			a.OwnTimeMs += t.OwnTime(n)
			a.CallSites++
			if !contains(stack[:depth], node.MethodID) {
				a.TotalTimeMs += t.TotalTime(n)
			}
			if node.InvocationCount > 0 {
				a.perCall.Add(float64(node.InvocationCount), t.OwnTimeAverage(n))
			}
			if a.lastSession != i {
				a.Threads++
				a.lastSession = i
			}
		})
		if err != nil {
			return nil, err
		}
	}

	result := make([]Method, 0, len(methods))
	for _, a := range methods {
		a.OwnTimePerCallMs = Percentiles{
			P50: a.perCall.Percentile(0.5),
			P90: a.perCall.Percentile(0.9),
			P99: a.perCall.Percentile(0.99),
		}
		result = append(result, a.Method)
	}
	Sort(result, SortOwnTime, true)
	return result, nil
}

func contains(ids []method.ID, id method.ID) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

func (m Method) value(key SortKey) float64 {
	switch key {
	case SortTotalTime:
		return m.TotalTimeMs
	case SortInvocations:
		return float64(m.Invocations)
	case SortP90:
		return m.OwnTimePerCallMs.P90
	default:
		return m.OwnTimeMs
	}
}

// Sort orders methods by key, ties broken by ascending method id.
func Sort(methods []Method, key SortKey, descending bool) {
	sort.SliceStable(methods, func(i, j int) bool {
		vi, vj := methods[i].value(key), methods[j].value(key)
		if vi != vj {
			if descending {
				return vi > vj
			}
			return vi < vj
		}
		return methods[i].ID < methods[j].ID
	})
}
