package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// stack represents a stack of program counters.
type stack []uintptr

func callers() *stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// fullStack renders every frame as "package.func file:line", runtime frames
// excluded.
func (s *stack) fullStack() []string {
	frames := runtime.CallersFrames(*s)
	stacks := make([]string, 0, len(*s))
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			stacks = append(stacks, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stacks
}
