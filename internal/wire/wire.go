// Package wire defines the framed message protocol spoken between a host
// runtime service and an enclave agent. Messages are length-prefixed JSON:
// a 4-byte big-endian length followed by the payload.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/enclave/internal/model"
)

// MaxMessageSize is the maximum allowed message payload (16 MiB).
const MaxMessageSize = 16 << 20

// Request operations sent from host to agent. The bootstrap, call, and bind
// operations mirror the sandbox program kinds; shutdown asks the agent to
// release the runtime and close the connection.
const (
	OpBootstrap = "bootstrap"
	OpCall      = "call"
	OpBind      = "bind"
	OpShutdown  = "shutdown"
)

// Request is the JSON payload sent from host to agent.
type Request struct {
	Op         string         `json:"op"`
	Task       []byte         `json:"task,omitempty"`
	Bindings   map[string]any `json:"bindings,omitempty"`
	Restricted bool           `json:"restricted,omitempty"`
}

// Response is the JSON payload sent from agent to host after each request.
// Exc carries the uncaught in-runtime failure, if any; Envelope carries the
// task result for call operations. The host delivers the envelope to the
// context's results channel on the agent's behalf.
type Response struct {
	Exc      *model.ExcInfo  `json:"exc,omitempty"`
	Envelope *model.Envelope `json:"envelope,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
