package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrScriptsNotSupported is returned when a raw script string is passed
// where a callable reference is required.
var ErrScriptsNotSupported = errors.New("scripts not supported")

// EncodeError reports that a task could not be encoded. It is always
// surfaced synchronously to the submitter, before any runtime or channel is
// involved.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "encode task: " + e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }

// Callable is a reference to a registered task function. Only callables
// reachable by qualified name can cross the isolation boundary; the
// zero Callable is not valid.
type Callable struct {
	name string
}

// Name returns the qualified name the callable was registered under.
func (c Callable) Name() string { return c.name }

// Encoded is an opaque immutable blob representing (callable, args, kwargs).
// It is produced once by Encode and consumed exactly once inside an isolated
// runtime.
type Encoded []byte

// payload is the wire form of an encoded task.
type payload struct {
	Fn     string         `json:"fn"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Encode serializes a callable reference plus positional and keyword
// arguments into a transportable blob. fn must be a Callable referencing a
// registered function; passing a raw script string fails with
// ErrScriptsNotSupported, and any value the codec cannot marshal fails with
// an EncodeError.
func Encode(fn any, args []any, kwargs map[string]any) (Encoded, error) {
	var name string
	switch v := fn.(type) {
	case string:
		return nil, &EncodeError{Err: ErrScriptsNotSupported}
	case Callable:
		name = v.name
	case *Callable:
		name = v.name
	default:
		return nil, &EncodeError{Err: fmt.Errorf("unsupported callable %T", fn)}
	}
	if _, ok := Lookup(name); !ok {
		return nil, &EncodeError{Err: fmt.Errorf("task function %q is not registered", name)}
	}

	data, err := json.Marshal(payload{Fn: name, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return Encoded(data), nil
}

// Decode resolves an encoded blob back into the registered function and its
// arguments. It runs inside the isolated runtime; a blob naming a function
// that is not registered in the consuming process fails here.
func Decode(blob Encoded) (Func, []any, map[string]any, error) {
	var p payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, nil, nil, fmt.Errorf("decode task: %w", err)
	}
	fn, ok := Lookup(p.Fn)
	if !ok {
		return nil, nil, nil, fmt.Errorf("task function %q is not registered", p.Fn)
	}
	return fn, p.Args, p.Kwargs, nil
}
