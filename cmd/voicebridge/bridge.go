package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/voicebridge/pkg/brain"
	"github.com/vango-go/voicebridge/pkg/config"
	"github.com/vango-go/voicebridge/pkg/metrics"
	"github.com/vango-go/voicebridge/pkg/orchestrator"
	"github.com/vango-go/voicebridge/pkg/session"
	"github.com/vango-go/voicebridge/pkg/sidechannel"
	"github.com/vango-go/voicebridge/pkg/transport"
	"github.com/vango-go/voicebridge/pkg/transport/ws"
)

// bridge serves one websocket session per participant: transcripts and
// voice-activity marks come in over the socket, synthesized speech and
// structured events go back out over the same socket.
type bridge struct {
	logger  *slog.Logger
	backend brain.Brain
	store   *session.Store
	prom    *metrics.Prom
	cfg     *config.Config
}

func newBridge(logger *slog.Logger, backend brain.Brain, store *session.Store, prom *metrics.Prom, cfg *config.Config) *bridge {
	return &bridge{logger: logger, backend: backend, store: store, prom: prom, cfg: cfg}
}

// inboundMessage is the client-to-bridge wire format. Chunked side-channel
// envelopes share the socket with the dev harness's transcript feed.
type inboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
}

func (b *bridge) handleSession(w http.ResponseWriter, r *http.Request) {
	identity := session.Identity{
		RoomSID:             r.URL.Query().Get("room_sid"),
		RoomName:            r.URL.Query().Get("room"),
		ParticipantIdentity: r.URL.Query().Get("participant"),
		ParticipantSID:      r.URL.Query().Get("participant_sid"),
		CustomSessionID:     r.URL.Query().Get("session_id"),
	}

	conduit, err := ws.Upgrade(w, r, ws.Options{Logger: b.logger})
	if err != nil {
		b.logger.Warn("side channel upgrade failed", "error", err)
		return
	}
	defer conduit.Close()

	logger := b.logger.With("room", identity.RoomName, "participant", identity.ParticipantIdentity)
	emitter := sidechannel.NewEmitter(conduit, logger)
	reassembler := sidechannel.NewReassembler(sidechannel.ReassemblerConfig{Logger: logger})
	artifacts := sidechannel.NewArtifactBuffer(0)
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Logger:    logger,
		Prom:      b.prom,
		Publisher: emitter,
	})

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Logger:    logger,
		Brain:     b.backend,
		Sessions:  b.store,
		Synth:     &loopbackSynthesizer{},
		Publisher: &sideChannelPublisher{emitter: emitter},
		Events:    emitter,
		Metrics:   collector,
	}, orchestrator.Config{
		Identity:            identity,
		SystemPrompt:        b.cfg.Turn.SystemPrompt,
		TurnTimeout:         b.cfg.Turn.Timeout,
		EnableSpeculative:   b.cfg.Turn.EnableSpeculative,
		SpeculativeDebounce: b.cfg.Turn.SpeculativeDebounce,
		FailureUtterance:    b.cfg.Turn.FailureUtterance,
	})
	if err != nil {
		logger.Error("orchestrator setup failed", "error", err)
		return
	}

	events := make(chan transport.InputEvent, 16)
	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(r.Context(), events) }()

	sessionID := session.DeriveID(identity)
	for payload := range conduit.Inbound() {
		b.routeInbound(r.Context(), logger, payload, reassembler, artifacts, events)
	}
	close(events)

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("turn loop ended with error", "error", err)
	}
	b.store.MarkState(sessionID, session.StateDisconnected)
	logger.Info("participant disconnected", "session_id", sessionID)
}

func (b *bridge) routeInbound(ctx context.Context, logger *slog.Logger, payload []byte, reassembler *sidechannel.Reassembler, artifacts *sidechannel.ArtifactBuffer, events chan<- transport.InputEvent) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("undecodable inbound message dropped", "error", err)
		return
	}

	deliver := func(ev transport.InputEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	switch msg.Type {
	case "speech_start":
		deliver(transport.InputEvent{Kind: transport.InputSpeechStart, At: time.Now()})

	case "transcript":
		deliver(transport.InputEvent{
			Kind:  transport.InputTranscript,
			Text:  msg.Text,
			Final: msg.Final,
			At:    time.Now(),
		})

	case sidechannel.TypeChunk:
		var env sidechannel.ChunkEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warn("malformed chunk envelope dropped", "error", err)
			return
		}
		complete, err := reassembler.Accept(env)
		if err != nil {
			b.prom.TransfersDropped.Inc()
			logger.Warn("chunk transfer dropped", "error", err)
			return
		}
		if complete != nil {
			b.consumeEvent(logger, complete, artifacts)
		}

	default:
		b.consumeEvent(logger, payload, artifacts)
	}
}

func (b *bridge) consumeEvent(logger *slog.Logger, payload []byte, artifacts *sidechannel.ArtifactBuffer) {
	event, err := sidechannel.DecodeEvent(payload)
	if err != nil {
		logger.Warn("unrecognized side-channel payload dropped", "error", err)
		return
	}
	switch ev := event.(type) {
	case sidechannel.ArtifactEvent:
		artifacts.Add(ev)
		logger.Debug("artifact received", "artifact_type", ev.ArtifactType, "title", ev.Title)
	case sidechannel.StatusEvent:
		logger.Debug("status received", "action", ev.Action)
	case sidechannel.MetricsEvent:
		logger.Debug("client metrics received", "fields", len(ev.Metrics))
	}
}
