// stack.go captures and reshapes stack frames.

package snag

import (
	"runtime"
	"strconv"
)

// maxStackDepth bounds CaptureStack.
const maxStackDepth = 64

// CaptureStack returns the caller's stack, innermost frame first.
// skip is the number of frames to omit above the caller of CaptureStack.
func CaptureStack(skip int) []Frame {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var out []Frame
	for {
		f, more := frames.Next()
		out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		if !more {
			break
		}
	}
	return out
}

// AnchorStacktrace rebuilds a stacktrace from a raw backtrace.
// The first frame is the origin (file, line) where the event happened and
// becomes the top of the result; the remaining frames follow in their original
// order. An empty backtrace yields nil.
func AnchorStacktrace(raw []Frame) []Frame {
	if len(raw) == 0 {
		return nil
	}
	origin := raw[0]
	out := make([]Frame, 0, len(raw))
	out = append(out, Frame{File: origin.File, Line: origin.Line, Function: origin.Function})
	return append(out, raw[1:]...)
}

// FramesFromValue converts a raw backtrace stored in metadata into frames.
// It accepts []Frame and decoded JSON shapes ([]any / []map[string]any with
// "file", "line" and "function" keys). Entries it cannot read are skipped;
// ok is false when v is not a sequence at all.
func FramesFromValue(v any) (frames []Frame, ok bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []Frame:
		return t, true
	case []map[string]any:
		for _, m := range t {
			frames = append(frames, frameFromMap(m))
		}
		return frames, true
	case []any:
		for _, item := range t {
			switch f := item.(type) {
			case Frame:
				frames = append(frames, f)
			case map[string]any:
				frames = append(frames, frameFromMap(f))
			}
		}
		return frames, true
	}
	return nil, false
}

func frameFromMap(m map[string]any) Frame {
	var f Frame
	f.File, _ = m["file"].(string)
	f.Function, _ = m["function"].(string)
	switch line := m["line"].(type) {
	case int:
		f.Line = line
	case int64:
		f.Line = int(line)
	case float64:
		f.Line = int(line)
	case string:
		f.Line, _ = strconv.Atoi(line)
	}
	return f
}
