package model

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// ExcInfo describes a failure that occurred inside an isolated runtime. It
// carries enough information to rebuild a meaningful error on the host side
// without sharing any memory with the runtime that produced it.
type ExcInfo struct {
	// Type is the dynamic type name of the captured error or panic value.
	Type string `json:"type"`
	// Msg is the error message.
	Msg string `json:"msg"`
	// Formatted is the single-line "Type: msg" rendering.
	Formatted string `json:"formatted,omitempty"`
	// Display is the full human-readable rendering, including the goroutine
	// stack captured at the point of failure.
	Display string `json:"display,omitempty"`
}

// CaptureErr builds an ExcInfo from an error raised inside an isolated
// runtime, recording the stack at the capture site.
func CaptureErr(err error) *ExcInfo {
	typeName := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	msg := err.Error()
	formatted := typeName + ": " + msg
	return &ExcInfo{
		Type:      typeName,
		Msg:       msg,
		Formatted: formatted,
		Display:   formatted + "\n\n" + string(debug.Stack()),
	}
}

// CapturePanic builds an ExcInfo from a recovered panic value.
func CapturePanic(v any) *ExcInfo {
	msg := fmt.Sprint(v)
	formatted := "panic: " + msg
	return &ExcInfo{
		Type:      "panic",
		Msg:       msg,
		Formatted: formatted,
		Display:   formatted + "\n\n" + string(debug.Stack()),
	}
}

// Envelope is the single message transported per task over a results
// channel. Exactly one of Value and Err is populated.
type Envelope struct {
	Value any      `json:"value,omitempty"`
	Err   *ExcInfo `json:"err,omitempty"`
}
