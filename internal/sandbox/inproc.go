package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/task"
)

// Compile-time interface satisfaction check.
var _ Service = (*InProc)(nil)

// InProc implements Service with in-process runtimes. Each runtime owns a
// namespace confined to a dedicated goroutine, so no state is ever shared
// between runtimes or with the host.
type InProc struct {
	channels *channel.Service

	mu       sync.Mutex
	runtimes map[Handle]*inprocRuntime
}

type inprocRuntime struct {
	progs chan inprocReq
	done  chan struct{}

	refMu   sync.Mutex
	reqRefs bool
	refs    int
}

type inprocReq struct {
	p          Program
	restricted bool
	reply      chan *model.ExcInfo
}

// NewInProc creates an in-process runtime service delivering result
// envelopes through channels.
func NewInProc(channels *channel.Service) *InProc {
	return &InProc{
		channels: channels,
		runtimes: make(map[Handle]*inprocRuntime),
	}
}

// Create allocates a runtime and starts its confinement goroutine.
func (s *InProc) Create(_ context.Context, reqRefs bool) (Handle, error) {
	h := Handle(model.NewID())
	rt := &inprocRuntime{
		progs:   make(chan inprocReq),
		done:    make(chan struct{}),
		reqRefs: reqRefs,
	}

	s.mu.Lock()
	s.runtimes[h] = rt
	s.mu.Unlock()

	go s.loop(rt)
	return h, nil
}

// loop owns the runtime's namespace for its entire life. All program
// execution happens here, which is what keeps runtimes fully isolated from
// each other.
func (s *InProc) loop(rt *inprocRuntime) {
	ns := task.NewNamespace()
	booted := false

	for {
		select {
		case req := <-rt.progs:
			req.reply <- s.runProgram(ns, &booted, req)
		case <-rt.done:
			return
		}
	}
}

func (s *InProc) runProgram(ns *task.Namespace, booted *bool, req inprocReq) *model.ExcInfo {
	switch req.p.Op {
	case OpBootstrap:
		*booted = true
		return nil
	case OpBind:
		if err := ns.Bind(req.p.Bindings, req.restricted); err != nil {
			return model.CaptureErr(err)
		}
		return nil
	case OpCall:
		if !*booted {
			return model.CaptureErr(fmt.Errorf("task dispatch entry point is not bootstrapped"))
		}
		results := req.p.Results
		return Dispatch(ns, req.p.Task, func(env model.Envelope) error {
			return s.channels.Put(results, env)
		})
	default:
		return model.CaptureErr(fmt.Errorf("unknown program op %q", req.p.Op))
	}
}

// Incref adds one reference to the runtime.
func (s *InProc) Incref(h Handle) error {
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

// Decref drops one reference, destroying the runtime when none remain.
func (s *InProc) Decref(h Handle) error {
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

// Exec runs a program inside the runtime, blocking until it completes.
func (s *InProc) Exec(h Handle, p Program, restricted bool) (*model.ExcInfo, error) {
	rt, err := s.lookup(h)
	if err != nil {
		return nil, err
	}

	req := inprocReq{p: p, restricted: restricted, reply: make(chan *model.ExcInfo, 1)}
	select {
	case rt.progs <- req:
		return <-req.reply, nil
	case <-rt.done:
		return nil, ErrNotFound
	}
}

// SetBindings injects top-level bindings into the runtime's namespace.
func (s *InProc) SetBindings(h Handle, bindings map[string]any, restricted bool) error {
	info, err := s.Exec(h, Program{Op: OpBind, Bindings: bindings}, restricted)
	if err != nil {
		return err
	}
	if info != nil {
		return fmt.Errorf("set bindings: %s", info.Msg)
	}
	return nil
}

func (s *InProc) lookup(h Handle) (*inprocRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[h]
	if !ok {
		return nil, ErrNotFound
	}
	return rt, nil
}

func (s *InProc) destroy(h Handle, rt *inprocRuntime) {
	s.mu.Lock()
	delete(s.runtimes, h)
	s.mu.Unlock()
	close(rt.done)
}
