package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubBrain struct {
	kind  string
	label string
	model string
}

func (b *stubBrain) Kind() string                     { return b.kind }
func (b *stubBrain) Label() string                    { return b.label }
func (b *stubBrain) Model() string                    { return b.model }
func (b *stubBrain) SetDefaultSession(SessionInfo)    {}
func (b *stubBrain) CancelPending(context.Context, string) error { return nil }
func (b *stubBrain) StreamChat(context.Context, ChatOptions) (Stream, error) {
	return nil, errors.New("not implemented")
}

func stubFactory(kind string) Factory {
	return func(ctx context.Context, cfg Config) (Brain, error) {
		return &stubBrain{kind: kind, label: kind, model: cfg.Model}, nil
	}
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()

	_, err := r.New(context.Background(), Config{Kind: "unknown"})
	if err == nil {
		t.Fatal("expected error for unregistered kind")
	}

	var ue *UnknownBackendError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownBackendError, got %T", err)
	}
	if ue.Kind != "unknown" {
		t.Errorf("error kind = %q, want %q", ue.Kind, "unknown")
	}
	if !strings.Contains(err.Error(), `"unknown"`) {
		t.Errorf("error message %q does not name the offending kind", err.Error())
	}
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", stubFactory("echo-v1"))
	r.Register("echo", stubFactory("echo-v2"))

	b, err := r.New(context.Background(), Config{Kind: "echo"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Kind() != "echo-v2" {
		t.Errorf("Kind = %q, want factory installed last", b.Kind())
	}
}

func TestRegistry_IsAvailableAndKinds(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", stubFactory("gemini"))
	r.Register("openai", stubFactory("openai"))

	if !r.IsAvailable("gemini") {
		t.Error("gemini should be available")
	}
	if r.IsAvailable("cohere") {
		t.Error("cohere should not be available")
	}

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != "gemini" || kinds[1] != "openai" {
		t.Errorf("Kinds = %v, want sorted [gemini openai]", kinds)
	}
}

func TestRegistry_IgnoresEmptyRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("", stubFactory("x"))
	r.Register("nilfactory", nil)

	if r.IsAvailable("") || r.IsAvailable("nilfactory") {
		t.Error("empty or nil registrations must not be installed")
	}
}
