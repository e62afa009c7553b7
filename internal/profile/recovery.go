package profile

import (
	"runtime"
	"strings"

	"github.com/getsentry/calltrace/internal/method"
)

const maxRecoveredFrames = 128

// RuntimeStackRecovery recovers ancestors from the Go call stack of the
// calling goroutine. Frames are mapped to method frames with FrameMapper
// and resolved through the registry; frames that don't resolve are skipped.
//
// Inlining, recursion and overloads without line numbers all make the result
// approximate, it should only be enabled when that is acceptable.
type RuntimeStackRecovery struct {
	Registry *method.Registry
	// FrameMapper defaults to SplitFunctionName.
	FrameMapper func(runtime.Frame) (method.Frame, bool)
	// Skip is the number of innermost frames belonging to the hook
	// machinery itself.
	Skip int
}

// SplitFunctionName maps "path/to/pkg.(*Type).Method" to the class
// "path/to/pkg.Type" and the method "Method".
func SplitFunctionName(f runtime.Frame) (method.Frame, bool) {
	name := f.Function
	if name == "" {
		return method.Frame{}, false
	}
	pkgEnd := strings.LastIndexByte(name, '/') + 1
	idx := strings.LastIndexByte(name[pkgEnd:], '.')
	if idx < 0 {
		return method.Frame{}, false
	}
	idx += pkgEnd
	className := strings.NewReplacer("(*", "", ")", "").Replace(name[:idx])
	return method.Frame{
		ClassName:  className,
		MethodName: name[idx+1:],
		Line:       uint32(f.Line),
	}, true
}

func (r RuntimeStackRecovery) Ancestors(id method.ID) []method.ID {
	pcs := make([]uintptr, maxRecoveredFrames)
	n := runtime.Callers(2+r.Skip, pcs)
	if n == 0 {
		return nil
	}
	mapper := r.FrameMapper
	if mapper == nil {
		mapper = SplitFunctionName
	}

	// innermost first
	var ids []method.ID
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if f, ok := mapper(frame); ok {
			if resolved, err := r.Registry.LookupFrame(f); err == nil {
				ids = append(ids, resolved)
			}
		}
		if !more {
			break
		}
	}

	// The method being entered is usually on the stack already.
	if len(ids) > 0 && ids[0] == id {
		ids = ids[1:]
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}
