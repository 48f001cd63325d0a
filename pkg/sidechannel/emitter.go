package sidechannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Sender is the outbound half of a side-channel conduit. MaxPayloadBytes is
// the largest single message the path accepts; larger payloads are split
// into chunk envelopes.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	MaxPayloadBytes() int
}

// Emitter publishes structured events over a Sender, fragmenting payloads
// that exceed the path's message size.
type Emitter struct {
	sender Sender
	logger *slog.Logger
}

// NewEmitter creates an Emitter.
func NewEmitter(sender Sender, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sender: sender, logger: logger}
}

// SendStatus publishes an ephemeral status event.
func (e *Emitter) SendStatus(ctx context.Context, action, detail string) error {
	return e.send(ctx, StatusEvent{Type: TypeStatus, Action: action, Detail: detail})
}

// SendArtifact publishes an artifact event.
func (e *Emitter) SendArtifact(ctx context.Context, artifact ArtifactEvent) error {
	artifact.Type = TypeArtifact
	return e.send(ctx, artifact)
}

// SendMetrics publishes one turn's latency breakdown. Implements the
// metrics publisher contract; emission is expected to be fire-and-forget
// from the caller's side.
func (e *Emitter) SendMetrics(ctx context.Context, fields map[string]float64) error {
	return e.send(ctx, MetricsEvent{Type: TypeMetrics, Metrics: fields})
}

func (e *Emitter) send(ctx context.Context, event any) error {
	if e == nil || e.sender == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode side-channel event: %w", err)
	}

	maxBytes := e.sender.MaxPayloadBytes()
	if maxBytes <= 0 || len(payload) <= maxBytes {
		return e.sender.Send(ctx, payload)
	}

	// Leave headroom for the envelope fields and base64 expansion.
	rawBudget := (maxBytes / 4) * 3
	rawBudget -= 256
	if rawBudget < 1 {
		rawBudget = 1
	}
	for _, env := range Split(payload, rawBudget) {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode chunk envelope: %w", err)
		}
		if err := e.sender.Send(ctx, data); err != nil {
			return err
		}
	}
	return nil
}
