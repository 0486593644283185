package provider

import (
	"context"
	"testing"
)

type stubAdapter struct {
	name string
	caps Capabilities
}

func (s *stubAdapter) Name() string             { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return s.caps }
func (s *stubAdapter) Run(ctx context.Context, input RunInput) (Handle, error) {
	return nil, nil
}

func TestRegistry_GetRegister(t *testing.T) {
	r := NewRegistry(&stubAdapter{name: "a"})

	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected adapter a to be registered")
	}
	if _, ok := r.Get("b"); ok {
		t.Fatal("did not expect adapter b")
	}

	r.Register(&stubAdapter{name: "b"})
	if _, ok := r.Get("b"); !ok {
		t.Fatal("expected adapter b after Register")
	}
}
