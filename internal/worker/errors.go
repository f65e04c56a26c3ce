package worker

import (
	"fmt"
	"strings"

	"github.com/seantiz/enclave/internal/model"
)

// ExecutionFailed reports that the execution call itself left an uncaught
// failure behind in the isolated runtime. When the failure also produced an
// error envelope, the reconstructed remote error chains to this wrapper as
// its cause.
type ExecutionFailed struct {
	Info model.ExcInfo
}

// message renders the short form: the pre-formatted line when present,
// falling back to "Type: msg", then to whichever of the two exists.
func (e *ExecutionFailed) message() string {
	if e.Info.Formatted != "" {
		return e.Info.Formatted
	}
	if e.Info.Type != "" && e.Info.Msg != "" {
		return e.Info.Type + ": " + e.Info.Msg
	}
	if e.Info.Type != "" {
		return e.Info.Type
	}
	return e.Info.Msg
}

func (e *ExecutionFailed) Error() string {
	msg := e.message()
	display := strings.TrimSpace(e.Info.Display)
	if display == "" {
		return msg
	}
	return msg + "\n\nuncaught in the isolated runtime:\n\n" + display
}

// RemoteError is an error reconstructed from the descriptor a task failure
// left in its result envelope. It carries enough to be meaningful on the
// host side without access to the remote runtime's types.
type RemoteError struct {
	Info model.ExcInfo

	// Dispatch is the dispatch-level wrapper this error chains from, when
	// the execution call itself also reported the failure as uncaught.
	Dispatch *ExecutionFailed
}

func (e *RemoteError) Error() string {
	if e.Info.Formatted != "" {
		return e.Info.Formatted
	}
	if e.Info.Type != "" && e.Info.Msg != "" {
		return e.Info.Type + ": " + e.Info.Msg
	}
	if e.Info.Type != "" {
		return e.Info.Type
	}
	return e.Info.Msg
}

// Unwrap exposes the dispatch-level wrapper as the cause.
func (e *RemoteError) Unwrap() error {
	if e.Dispatch == nil {
		return nil
	}
	return e.Dispatch
}

// InitializationError reports a failure during Initialize. The context is
// always finalized before this is returned, so the caller never sees a
// half-initialized handle pair.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string { return "initialize context: " + e.Err.Error() }

func (e *InitializationError) Unwrap() error { return e.Err }

// InvalidInitializerArgsError reports an initializer script combined with
// initializer arguments, which only make sense for callable initializers.
type InvalidInitializerArgsError struct {
	Args []any
}

func (e *InvalidInitializerArgsError) Error() string {
	return fmt.Sprintf("an initializer script does not take args, got %v", e.Args)
}
