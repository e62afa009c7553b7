package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getsentry/calltrace/internal/errorutil"
)

// DescriptionKey holds the user supplied description of a profile.
const DescriptionKey = "description"

const validKeyChars = "abcdefghijklmnopqrstuvwxyz0123456789_-"

var errInvalidEntry = fmt.Errorf("metadata: %w: invalid entry", errorutil.ErrDataIntegrity)

// Map is the metadata attached to a profile session. It is stored as
// "key=value,key=value"; keys are restricted to lowercase letters, digits,
// '_' and '-', values may contain commas but no '='.
type Map map[string]string

func isValidKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !strings.ContainsRune(validKeyChars, r) {
			return false
		}
	}
	return true
}

// Put sets a value after checking that the entry can be encoded.
func (m Map) Put(key, value string) error {
	if !isValidKey(key) {
		return fmt.Errorf("%w: key %q", errInvalidEntry, key)
	}
	if strings.Contains(value, "=") {
		return fmt.Errorf("%w: value of %q must not contain '='", errInvalidEntry, key)
	}
	m[key] = value
	return nil
}

// Get returns the value for key, or def when it is missing or blank.
func (m Map) Get(key, def string) string {
	v := m[key]
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (m Map) Description() string {
	return m.Get(DescriptionKey, "")
}

// Merge copies every entry of other into m, replacing existing keys.
func (m Map) Merge(other Map) {
	for k, v := range other {
		m[k] = v
	}
}

// String encodes the map with keys in lexical order.
func (m Map) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// Parse decodes the output of String. Since values may contain commas, the
// key of each entry after the first is the run of key characters following
// the last comma before its '='.
func Parse(s string) (Map, error) {
	m := make(Map)
	if s == "" {
		return m, nil
	}
	parts := strings.Split(s, "=")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q has no '='", errInvalidEntry, s)
	}
	key := parts[0]
	for i := 1; i < len(parts); i++ {
		if !isValidKey(key) {
			return nil, fmt.Errorf("%w: key %q in %q", errInvalidEntry, key, s)
		}
		segment := parts[i]
		if i == len(parts)-1 {
			m[key] = segment
			break
		}
		idx := strings.LastIndexByte(segment, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: missing ',' before key in %q", errInvalidEntry, s)
		}
		m[key] = segment[:idx]
		key = segment[idx+1:]
	}
	return m, nil
}
