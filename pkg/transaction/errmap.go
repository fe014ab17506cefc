package transaction

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorMapping is a set of flags controlling how a failure is snapshotted
// into Transaction.Error.
type ErrorMapping uint8

const (
	// KeepStack retains the stack trace. Without it only type and message
	// are stored.
	KeepStack ErrorMapping = 1 << iota
	// StackAsArray stores the stack as a list of lines (ErrorInfo.Frames)
	// instead of a single string (ErrorInfo.Stack).
	StackAsArray
	// TrimStack trims surrounding whitespace from every stack line.
	TrimStack
	// FilterFrames drops lines matching the registry's noise denylist and
	// folds a leading line that repeats the error message.
	FilterFrames
)

// DefaultErrorMapping keeps a trimmed, filtered stack as a line array.
const DefaultErrorMapping = KeepStack | StackAsArray | TrimStack | FilterFrames

// DefaultNoiseFrames are frame substrings removed by FilterFrames.
var DefaultNoiseFrames = []string{
	"runtime.goexit",
	"runtime.main",
	"runtime/debug.",
	"testing.tRunner",
	"nxcd-apm/pkg/transaction.WithStack",
	"nxcd-apm/pkg/transaction.(*Transaction)",
	"nxcd-apm/pkg/transaction.Trace[",
	"nxcd-apm/pkg/transaction.mapFailure",
}

var mappingNames = []struct {
	flag ErrorMapping
	name string
}{
	{KeepStack, "keep_stack"},
	{StackAsArray, "stack_as_array"},
	{TrimStack, "trim_stack"},
	{FilterFrames, "filter_frames"},
}

// String lists the set flags, e.g. "keep_stack|trim_stack".
func (m ErrorMapping) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, n := range mappingNames {
		if m&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseErrorMapping builds a mapping from flag names. An empty list yields
// zero (type and message only).
func ParseErrorMapping(names []string) (ErrorMapping, error) {
	var m ErrorMapping
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, n := range mappingNames {
			if n.name == name {
				m |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown error mapping flag: %q", raw)
		}
	}
	return m, nil
}

// ErrorInfo is the stored snapshot of a Go error.
type ErrorInfo struct {
	Type    string   `json:"type" bson:"type"`
	Message string   `json:"message" bson:"message"`
	Stack   string   `json:"stack,omitempty" bson:"stack,omitempty"`
	Frames  []string `json:"frames,omitempty" bson:"frames,omitempty"`
}

// Error implements error so a revived snapshot can still be returned as one.
func (e *ErrorInfo) Error() string {
	return e.Message
}

// StackError is implemented by errors that carry their own stack trace.
type StackError interface {
	error
	Stack() string
}

type stackError struct {
	cause error
	pcs   []uintptr
}

func (e *stackError) Error() string { return e.cause.Error() }
func (e *stackError) Unwrap() error { return e.cause }

// Stack renders the captured frames, first line being "<type>: <message>".
func (e *stackError) Stack() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%T: %s", e.cause, e.cause.Error())
	frames := runtime.CallersFrames(e.pcs)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "\n    at %s (%s:%d)", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}

// WithStack annotates err with the caller's stack. It returns nil for a nil
// error and err unchanged when it already carries a stack.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var se StackError
	if errors.As(err, &se) {
		return err
	}
	return &stackError{cause: err, pcs: callers(3)}
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// mapFailure converts a failure into its stored form. Non-error values are
// stored as they are.
func mapFailure(failure any, mapping ErrorMapping, noise []string) any {
	err, ok := failure.(error)
	if !ok {
		return failure
	}

	info := &ErrorInfo{Type: errorType(err), Message: err.Error()}
	if mapping&KeepStack == 0 {
		return info
	}

	var raw string
	var se StackError
	if errors.As(err, &se) {
		raw = se.Stack()
	} else {
		raw = (&stackError{cause: err, pcs: callers(4)}).Stack()
	}

	lines := strings.Split(raw, "\n")
	if mapping&TrimStack != 0 {
		for i, line := range lines {
			lines[i] = strings.TrimSpace(line)
		}
	}
	if mapping&FilterFrames != 0 {
		lines = filterFrames(lines, info.Message, noise)
	}

	if mapping&StackAsArray != 0 {
		info.Frames = lines
	} else {
		info.Stack = strings.Join(lines, "\n")
	}
	return info
}

func filterFrames(lines []string, message string, noise []string) []string {
	if len(lines) > 0 {
		head := strings.TrimSpace(lines[0])
		if head == message || strings.HasSuffix(head, ": "+message) {
			lines = lines[1:]
		}
	}

	kept := lines[:0:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" || isNoise(line, noise) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func isNoise(line string, noise []string) bool {
	for _, n := range noise {
		if n != "" && strings.Contains(line, n) {
			return true
		}
	}
	return false
}

func errorType(err error) string {
	if se, ok := err.(*stackError); ok {
		return fmt.Sprintf("%T", se.cause)
	}
	return fmt.Sprintf("%T", err)
}
