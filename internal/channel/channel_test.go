package channel

import (
	"errors"
	"testing"

	"github.com/seantiz/enclave/internal/model"
)

func TestPutGetFIFO(t *testing.T) {
	s := NewService()
	h := s.Create(0)

	for _, v := range []string{"a", "b", "c"} {
		if err := s.Put(h, model.Envelope{Value: v}); err != nil {
			t.Fatalf("Put(%q): %v", v, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		env, marker, err := s.Get(h)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if marker != 0 {
			t.Errorf("marker = %d, want 0", marker)
		}
		if env.Value != want {
			t.Errorf("Value = %v, want %q", env.Value, want)
		}
	}
}

func TestGetEmptyIsTransient(t *testing.T) {
	s := NewService()
	h := s.Create(0)

	_, _, err := s.Get(h)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("Get on empty channel = %v, want ErrEmpty", err)
	}

	// The channel is still usable after a transient-empty report.
	if err := s.Put(h, model.Envelope{Value: 1.0}); err != nil {
		t.Fatalf("Put after empty Get: %v", err)
	}
	if _, _, err := s.Get(h); err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
}

func TestDestroyedChannelIsNotFound(t *testing.T) {
	s := NewService()
	h := s.Create(0)

	if err := s.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if err := s.Destroy(h); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Destroy = %v, want ErrNotFound", err)
	}
	if err := s.Put(h, model.Envelope{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Put after Destroy = %v, want ErrNotFound", err)
	}
	if _, _, err := s.Get(h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Destroy = %v, want ErrNotFound", err)
	}
}

func TestBoundedChannelFull(t *testing.T) {
	s := NewService()
	h := s.Create(1)

	if err := s.Put(h, model.Envelope{Value: 1.0}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(h, model.Envelope{Value: 2.0}); !errors.Is(err, ErrFull) {
		t.Errorf("Put on full channel = %v, want ErrFull", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	s := NewService()
	h := s.Create(0)

	info := &model.ExcInfo{Type: "timeout", Msg: "deadline exceeded"}
	if err := s.Put(h, model.Envelope{Err: info}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	env, _, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if env.Err == nil || env.Err.Type != "timeout" {
		t.Errorf("Err = %+v, want timeout ExcInfo", env.Err)
	}
	if env.Value != nil {
		t.Errorf("Value = %v, want nil alongside Err", env.Value)
	}
}
