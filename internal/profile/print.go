package profile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
)

const unknownMethod = "<unknown class>|<unknown method>|()"

// Print writes the call tree of a session as indented text.
func Print(w io.Writer, registry *method.Registry, s *Session) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Thread[ %s]\n", s.ThreadName)
	if s.Tree.Empty() {
		bw.WriteString("<no top-level method>\n")
		return bw.Flush()
	}
	printNode(bw, registry, s.Tree, s.Tree.Root(), "", true)
	return bw.Flush()
}

func printNode(w *bufio.Writer, registry *method.Registry, t *calltree.Tree, n calltree.NodeID, prefix string, last bool) {
	connector, indent := "├── ", "│   "
	if last {
		connector, indent = "└── ", "    "
	}
	w.WriteString(prefix)
	w.WriteString(connector)
	w.WriteString(describeNode(registry, t, n))
	w.WriteByte('\n')

	children := t.Children(n)
	for i, c := range children {
		printNode(w, registry, t, c, prefix+indent, i == len(children)-1)
	}
}

func describeNode(registry *method.Registry, t *calltree.Tree, n calltree.NodeID) string {
	name := unknownMethod
	node := t.Node(n)
	if i, err := registry.Resolve(node.MethodID); err == nil {
		name = i.String()
	}
	total := t.TotalTime(n)
	average := total
	if node.InvocationCount > 0 {
		average = total / float64(node.InvocationCount)
	}
	return fmt.Sprintf(
		"%s | invocations: %d | avg. time: %s | total time: %s",
		name,
		node.InvocationCount,
		FormatMillis(average),
		FormatMillis(total),
	)
}

// FormatMillis formats a duration in milliseconds, switching to nanoseconds
// under one millisecond.
func FormatMillis(ms float64) string {
	if ms < 1 {
		return strconv.FormatFloat(ms*1e6, 'f', 0, 64) + " ns"
	}
	return strconv.FormatFloat(ms, 'f', 3, 64) + " ms"
}
