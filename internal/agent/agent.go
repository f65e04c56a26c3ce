// Package agent implements the enclave agent process. Each connection to
// the agent hosts one isolated runtime: the agent keeps a private namespace
// per connection, executes the programs the host sends over the framed wire
// protocol, and returns one response per request. Running the agent in its
// own process (or inside a VM, reached over vsock) gives the runtime full
// address-space isolation from the host.
package agent

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/task"
	"github.com/seantiz/enclave/internal/wire"
)

// Agent accepts connections and serves one isolated runtime per connection.
type Agent struct {
	listener net.Listener
	log      *logrus.Logger
}

// New creates an agent serving runtimes on the given listener.
func New(listener net.Listener, log *logrus.Logger) *Agent {
	return &Agent{listener: listener, log: log}
}

// Serve accepts connections and handles runtimes. It blocks until the
// listener is closed or an unrecoverable error occurs.
func (a *Agent) Serve() error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go a.handleConn(conn)
	}
}

// handleConn owns one runtime for the life of the connection. Requests are
// strictly sequential per connection, matching the single-owner discipline
// of the context on the host side.
func (a *Agent) handleConn(conn net.Conn) {
	defer conn.Close()

	log := a.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("runtime connected")

	ns := task.NewNamespace()
	booted := false

	for {
		var req wire.Request
		if err := wire.ReadMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Warn("read request")
			}
			return
		}

		resp, done := a.handleRequest(ns, &booted, &req)
		if err := wire.WriteMessage(conn, &resp); err != nil {
			log.WithError(err).Warn("write response")
			return
		}
		if done {
			log.Info("runtime shut down")
			return
		}
	}
}

// handleRequest executes one request against the connection's runtime state.
// The returned bool reports whether the connection should close.
func (a *Agent) handleRequest(ns *task.Namespace, booted *bool, req *wire.Request) (wire.Response, bool) {
	switch req.Op {
	case wire.OpBootstrap:
		*booted = true
		return wire.Response{}, false

	case wire.OpBind:
		if err := ns.Bind(req.Bindings, req.Restricted); err != nil {
			return wire.Response{Exc: model.CaptureErr(err)}, false
		}
		return wire.Response{}, false

	case wire.OpCall:
		if !*booted {
			err := fmt.Errorf("task dispatch entry point is not bootstrapped")
			return wire.Response{Exc: model.CaptureErr(err)}, false
		}
		var env *model.Envelope
		info := sandbox.Dispatch(ns, req.Task, func(e model.Envelope) error {
			env = &e
			return nil
		})
		return wire.Response{Exc: info, Envelope: env}, false

	case wire.OpShutdown:
		return wire.Response{}, true

	default:
		err := fmt.Errorf("unknown request op %q", req.Op)
		return wire.Response{Exc: model.CaptureErr(err)}, false
	}
}
