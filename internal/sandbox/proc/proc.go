// Package proc implements the isolated runtime service with OS processes.
// Each runtime handle maps to a dedicated enclave agent subprocess reached
// over a unix socket, or to a fresh connection into a shared agent reached
// over vsock when the agents run inside a VM. Either way the runtime shares
// no memory with the host; programs and results cross the boundary through
// the framed wire protocol.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/wire"
)

// Dial and shutdown tuning.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond

	// gracefulShutdownTimeout is the time allowed for an agent process to
	// exit after the shutdown request before it is killed.
	gracefulShutdownTimeout = 3 * time.Second
)

// Config holds the subprocess runtime service configuration.
type Config struct {
	// AgentPath is the enclave agent binary spawned per runtime.
	AgentPath string
	// SocketDir is where per-runtime unix sockets are placed. Empty means
	// the system temp directory.
	SocketDir string
	// Addr optionally points at a shared agent instead of spawning one,
	// using the form "vsock://<cid>:<port>". Each runtime then gets its own
	// connection, and with it its own namespace inside the remote agent.
	Addr string
}

// Compile-time interface satisfaction check.
var _ sandbox.Service = (*Service)(nil)

// Service implements sandbox.Service with one agent connection per runtime.
type Service struct {
	channels *channel.Service
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	runtimes map[sandbox.Handle]*remoteRuntime
}

type remoteRuntime struct {
	sess *session
	cmd  *exec.Cmd // nil when dialing a shared agent

	refMu   sync.Mutex
	reqRefs bool
	refs    int
}

// NewService creates a subprocess runtime service delivering result
// envelopes through channels.
func NewService(channels *channel.Service, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		channels: channels,
		cfg:      cfg,
		logger:   logger,
		runtimes: make(map[sandbox.Handle]*remoteRuntime),
	}
}

// Create spawns (or dials) an agent and returns the new runtime's handle.
func (s *Service) Create(ctx context.Context, reqRefs bool) (sandbox.Handle, error) {
	h := sandbox.Handle(model.NewID())

	rt, err := s.connect(ctx, string(h))
	if err != nil {
		return "", err
	}
	rt.reqRefs = reqRefs

	s.mu.Lock()
	s.runtimes[h] = rt
	s.mu.Unlock()

	s.logger.Debug("runtime created", "handle", string(h), "proc", rt.cmd != nil)
	return h, nil
}

func (s *Service) connect(ctx context.Context, id string) (*remoteRuntime, error) {
	if s.cfg.Addr != "" {
		conn, err := dialShared(ctx, s.cfg.Addr)
		if err != nil {
			return nil, err
		}
		return &remoteRuntime{sess: newSession(conn)}, nil
	}

	dir := s.cfg.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	sockPath := filepath.Join(dir, "enclave-"+id+".sock")

	cmd := exec.Command(s.cfg.AgentPath, "-listen", "unix://"+sockPath)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	conn, err := dialRetry(ctx, "unix", sockPath)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	return &remoteRuntime{sess: newSession(conn), cmd: cmd}, nil
}

// dialRetry connects to the agent's socket, retrying with exponential
// backoff while the agent is still coming up.
func dialRetry(ctx context.Context, network, addr string) (net.Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff
	dialer := net.Dialer{}

	for attempt := 0; attempt < dialMaxRetries; attempt++ {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < dialMaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("dial agent: %w", ctx.Err())
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("dial agent after %d attempts: %w", dialMaxRetries, lastErr)
}

// dialShared connects to a shared agent at a "vsock://<cid>:<port>" address.
func dialShared(ctx context.Context, addr string) (net.Conn, error) {
	rest, ok := strings.CutPrefix(addr, "vsock://")
	if !ok {
		return nil, fmt.Errorf("unsupported agent address %q", addr)
	}
	host, port, found := strings.Cut(rest, ":")
	if !found {
		return nil, fmt.Errorf("agent address %q missing port", addr)
	}
	cid, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse vsock CID %q: %w", host, err)
	}
	p, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse vsock port %q: %w", port, err)
	}

	var lastErr error
	backoff := dialBaseBackoff
	for attempt := 0; attempt < dialMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial agent: %w", ctx.Err())
		default:
		}
		conn, err := vsock.Dial(uint32(cid), uint32(p), nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < dialMaxRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("dial agent after %d attempts: %w", dialMaxRetries, lastErr)
}

// Incref adds one reference to the runtime.
func (s *Service) Incref(h sandbox.Handle) error {
	rt, err := s.lookup(h)
	if err != nil {
		return err
	}
	rt.refMu.Lock()
	defer rt.refMu.Unlock()
	if !rt.reqRefs {
		return fmt.Errorf("runtime %s does not track references", h)
	}
	rt.refs++
	return nil
}

// Decref drops one reference, shutting the agent down when none remain.
func (s *Service) Decref(h sandbox.Handle) error {
	rt, err := s.lookup(h)
	if err != nil {
		return err
	}
	rt.refMu.Lock()
	if !rt.reqRefs {
		rt.refMu.Unlock()
		return fmt.Errorf("runtime %s does not track references", h)
	}
	rt.refs--
	destroy := rt.refs <= 0
	rt.refMu.Unlock()

	if destroy {
		s.destroy(h, rt)
	}
	return nil
}

// Exec forwards a program to the runtime's agent and delivers the resulting
// envelope, if any, to the program's results channel.
func (s *Service) Exec(h sandbox.Handle, p sandbox.Program, restricted bool) (*model.ExcInfo, error) {
	rt, err := s.lookup(h)
	if err != nil {
		return nil, err
	}

	resp, err := rt.sess.roundTrip(wire.Request{
		Op:         p.Op,
		Task:       p.Task,
		Bindings:   p.Bindings,
		Restricted: restricted,
	})
	if err != nil {
		return nil, fmt.Errorf("exec on runtime %s: %w", h, err)
	}

	if resp.Envelope != nil && p.Results != "" {
		if err := s.channels.Put(p.Results, *resp.Envelope); err != nil {
			return nil, fmt.Errorf("deliver envelope: %w", err)
		}
	}
	return resp.Exc, nil
}

// SetBindings injects top-level bindings into the runtime's namespace.
func (s *Service) SetBindings(h sandbox.Handle, bindings map[string]any, restricted bool) error {
	info, err := s.Exec(h, sandbox.Program{Op: sandbox.OpBind, Bindings: bindings}, restricted)
	if err != nil {
		return err
	}
	if info != nil {
		return fmt.Errorf("set bindings: %s", info.Msg)
	}
	return nil
}

func (s *Service) lookup(h sandbox.Handle) (*remoteRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[h]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	return rt, nil
}

// destroy asks the agent to shut down, then reaps the process, killing it
// if it does not exit within the grace period.
func (s *Service) destroy(h sandbox.Handle, rt *remoteRuntime) {
	s.mu.Lock()
	delete(s.runtimes, h)
	s.mu.Unlock()

	if _, err := rt.sess.roundTrip(wire.Request{Op: wire.OpShutdown}); err != nil {
		s.logger.Warn("shutdown request failed", "handle", string(h), "error", err)
	}
	rt.sess.Close()

	if rt.cmd == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- rt.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(gracefulShutdownTimeout):
		rt.cmd.Process.Kill()
		<-done
	}
}
