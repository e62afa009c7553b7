package method

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/getsentry/calltrace/internal/errorutil"
)

// ID is the small integer an instrumented method is known by on the hot path.
type ID uint32

// Identity describes an instrumented method. Line is the first source line
// of the method body, 0 when unknown.
type Identity struct {
	ID         ID     `json:"id"`
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
	Signature  string `json:"signature"`
	Line       uint32 `json:"line,omitempty"`
}

// Frame is a single entry of a native call stack, as seen by the ancestor
// recovery strategy.
type Frame struct {
	ClassName  string
	MethodName string
	Line       uint32
}

const separator = "|"

var errMalformedIdentity = fmt.Errorf("method: %w: malformed method name", errorutil.ErrDataIntegrity)

func (i Identity) HasLineNumber() bool {
	return i.Line > 0
}

// Matches reports whether both identities name the same method, including
// the line number.
func (i Identity) Matches(other Identity) bool {
	return i.MatchesIgnoringLineNumber(other) && i.Line == other.Line
}

func (i Identity) MatchesIgnoringLineNumber(other Identity) bool {
	return i.ClassName == other.ClassName &&
		i.MethodName == other.MethodName &&
		i.Signature == other.Signature
}

// String returns the canonical "class|method|descriptor[|line]" form.
func (i Identity) String() string {
	s := i.ClassName + separator + i.MethodName + separator + i.Signature
	if i.HasLineNumber() {
		s += separator + strconv.FormatUint(uint64(i.Line), 10)
	}
	return s
}

// Parse reads the canonical form produced by String.
func Parse(id ID, s string) (Identity, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 3 && len(parts) != 4 {
		return Identity{}, fmt.Errorf("%w: %q", errMalformedIdentity, s)
	}
	i := Identity{
		ID:         id,
		ClassName:  parts[0],
		MethodName: parts[1],
		Signature:  parts[2],
	}
	if i.ClassName == "" || i.MethodName == "" {
		return Identity{}, fmt.Errorf("%w: %q", errMalformedIdentity, s)
	}
	if len(parts) == 4 {
		line, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %q: %v", errMalformedIdentity, s, err)
		}
		i.Line = uint32(line)
	}
	return i, nil
}

// DisplayClassName returns the class name with package separators as dots.
func (i Identity) DisplayClassName() string {
	return strings.ReplaceAll(i.ClassName, "/", ".")
}

// SimpleClassName returns the class name without its package.
func (i Identity) SimpleClassName() string {
	if idx := strings.LastIndexAny(i.ClassName, "/."); idx >= 0 {
		return i.ClassName[idx+1:]
	}
	return i.ClassName
}

func (i Identity) DisplayMethodName() string {
	return strings.ReplaceAll(i.MethodName, "()", "")
}

// ArgumentTypes returns the simple names of the parameter types declared by
// a descriptor like "(ILjava/lang/String;[J)V". Signatures that are not
// descriptors are returned as a single element.
func (i Identity) ArgumentTypes() []string {
	sig := i.Signature
	if !strings.HasPrefix(sig, "(") {
		if sig == "" {
			return nil
		}
		return []string{sig}
	}
	end := strings.IndexByte(sig, ')')
	if end < 0 {
		return []string{sig}
	}
	params := sig[1:end]
	var types []string
	for len(params) > 0 {
		name, rest := nextDescriptorType(params)
		types = append(types, name)
		params = rest
	}
	return types
}

var primitives = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

func nextDescriptorType(s string) (string, string) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	s = s[dims:]
	if s == "" {
		return strings.Repeat("[]", dims), ""
	}
	var name, rest string
	if s[0] == 'L' {
		end := strings.IndexByte(s, ';')
		if end < 0 {
			end = len(s) - 1
		}
		name = s[1:end]
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:]
		}
		rest = s[end+1:]
	} else {
		p, ok := primitives[s[0]]
		if !ok {
			p = s[:1]
		}
		name, rest = p, s[1:]
	}
	return name + strings.Repeat("[]", dims), rest
}
