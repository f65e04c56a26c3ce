// Package channel implements the bounded message queues that carry result
// envelopes across the isolation boundary. Each isolated context creates
// exactly one channel at initialization and reuses it for every task.
package channel

import (
	"errors"
	"sync"

	"github.com/seantiz/enclave/internal/model"
)

// Failure conditions. ErrNotFound is fatal to callers: it means the channel
// has been destroyed out from under them. ErrEmpty is transient and callers
// retry it.
var (
	ErrNotFound = errors.New("channel not found")
	ErrEmpty    = errors.New("channel empty")
	ErrFull     = errors.New("channel full")
)

// Handle identifies a channel. The empty string is the unset handle.
type Handle string

// Marker is the auxiliary marker returned alongside every retrieved
// envelope. In this design it is zero on every successful retrieval; a
// non-zero marker indicates a protocol violation.
type Marker int

type queue struct {
	max   int // 0 = unbounded
	items []entry
}

type entry struct {
	env    model.Envelope
	marker Marker
}

// Service is an in-memory registry of channels keyed by handle.
// It is safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	queues map[Handle]*queue
}

// NewService creates an empty channel service.
func NewService() *Service {
	return &Service{queues: make(map[Handle]*queue)}
}

// Create allocates a new channel with the given capacity (0 = unbounded)
// and returns its handle.
func (s *Service) Create(maxSize int) Handle {
	h := Handle(model.NewID())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[h] = &queue{max: maxSize}
	return h
}

// Put appends an envelope to the channel. A bounded channel that is full
// fails with ErrFull; a destroyed channel fails with ErrNotFound.
func (s *Service) Put(h Handle, env model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[h]
	if !ok {
		return ErrNotFound
	}
	if q.max > 0 && len(q.items) >= q.max {
		return ErrFull
	}
	q.items = append(q.items, entry{env: env})
	return nil
}

// Get removes and returns the oldest envelope along with its marker. It
// never blocks: an existing but empty channel fails with ErrEmpty, and a
// destroyed channel fails with ErrNotFound.
func (s *Service) Get(h Handle) (model.Envelope, Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[h]
	if !ok {
		return model.Envelope{}, 0, ErrNotFound
	}
	if len(q.items) == 0 {
		return model.Envelope{}, 0, ErrEmpty
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e.env, e.marker, nil
}

// Destroy removes the channel. Destroying an unknown handle fails with
// ErrNotFound.
func (s *Service) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[h]; !ok {
		return ErrNotFound
	}
	delete(s.queues, h)
	return nil
}
