// Package orchestrator drives one participant's voice turns: transcription
// events in, brain streaming and sentence-chunked synthesis out. All turn
// state for a session lives on the single goroutine running the event loop;
// sessions are independent of each other.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/brain"
	"github.com/vango-go/voicebridge/pkg/metrics"
	"github.com/vango-go/voicebridge/pkg/session"
	"github.com/vango-go/voicebridge/pkg/sidechannel"
	"github.com/vango-go/voicebridge/pkg/transport"
)

const (
	defaultTurnTimeout         = 30 * time.Second
	defaultSpeculativeDebounce = 400 * time.Millisecond
	defaultMaxHistory          = 40
	fallbackSpeechBudget       = 10 * time.Second
)

// Dependencies carries the orchestrator's collaborators.
type Dependencies struct {
	Logger    *slog.Logger
	Brain     brain.Brain
	Sessions  *session.Store
	Synth     transport.Synthesizer
	Publisher transport.AudioPublisher

	// Events, when set, receives status and metrics side-channel events.
	Events *sidechannel.Emitter

	// Metrics, when set, records per-turn latency. Nil disables collection.
	Metrics *metrics.Collector
}

// Config tunes one orchestrator instance.
type Config struct {
	// Identity names the participant this orchestrator serves.
	Identity session.Identity

	// SystemPrompt, when set, opens every conversation.
	SystemPrompt string

	// Tools is the tool schema forwarded on every brain call.
	Tools []brain.Tool

	// TurnTimeout bounds one generation including synthesis feed.
	TurnTimeout time.Duration

	// EnableSpeculative starts generation on a debounced stable interim
	// transcript instead of waiting for the final one.
	EnableSpeculative bool

	// SpeculativeDebounce is how long an interim transcript must hold still
	// before it is considered stable.
	SpeculativeDebounce time.Duration

	// FailureUtterance is spoken when a turn fails, so the room is not left
	// silent mid-exchange. Empty disables it.
	FailureUtterance string

	// MaxHistory caps retained conversation messages.
	MaxHistory int
}

// Orchestrator runs the turn loop for one participant.
type Orchestrator struct {
	logger    *slog.Logger
	brain     brain.Brain
	sessions  *session.Store
	synth     transport.Synthesizer
	publisher transport.AudioPublisher
	events    *sidechannel.Emitter
	metrics   *metrics.Collector
	cfg       Config

	history []brain.Message

	stateMu sync.Mutex
	state   TurnState
}

// New creates an Orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Brain == nil {
		return nil, fmt.Errorf("orchestrator requires a brain")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("orchestrator requires a session store")
	}
	if deps.Synth == nil {
		return nil, fmt.Errorf("orchestrator requires a synthesizer")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("orchestrator requires an audio publisher")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.SpeculativeDebounce <= 0 {
		cfg.SpeculativeDebounce = defaultSpeculativeDebounce
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}

	o := &Orchestrator{
		logger:    deps.Logger,
		brain:     deps.Brain,
		sessions:  deps.Sessions,
		synth:     deps.Synth,
		publisher: deps.Publisher,
		events:    deps.Events,
		metrics:   deps.Metrics,
		cfg:       cfg,
		state:     StateIdle,
	}
	if cfg.SystemPrompt != "" {
		o.history = append(o.history, brain.Message{Role: brain.RoleSystem, Content: cfg.SystemPrompt})
	}
	return o, nil
}

// State returns the current turn state.
func (o *Orchestrator) State() TurnState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(to TurnState) {
	o.stateMu.Lock()
	from := o.state
	if from == to {
		o.stateMu.Unlock()
		return
	}
	if !from.canAdvance(to) {
		o.stateMu.Unlock()
		o.logger.Warn("invalid turn transition ignored", "from", from, "to", to)
		return
	}
	o.state = to
	o.stateMu.Unlock()
	o.logger.Debug("turn transition", "from", from, "to", to)
}

// Run consumes the participant's input events until the channel closes or
// the context ends. It owns all turn state; callers run one Run per session.
func (o *Orchestrator) Run(ctx context.Context, events <-chan transport.InputEvent) error {
	sess := o.sessions.Resolve(o.cfg.Identity)
	o.brain.SetDefaultSession(correlation(sess))
	o.setState(StateListening)

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	debounceArmed := false

	var (
		cur     *generation
		rec     *metrics.TurnRecorder
		interim string
	)

	finishTurn := func(outcome metrics.Outcome) {
		if rec != nil {
			rec.Complete(outcome)
		}
		cur, rec, interim = nil, nil, ""
		if debounceArmed && !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounceArmed = false
		o.setState(StateIdle)
		o.setState(StateListening)
	}

	for {
		var notes chan genNote
		if cur != nil {
			notes = cur.notes
		}

		select {
		case <-ctx.Done():
			if cur != nil {
				o.stopGeneration(cur)
			}
			if rec != nil {
				rec.Complete(metrics.OutcomeInterrupted)
			}
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if cur != nil {
					o.stopGeneration(cur)
				}
				if rec != nil {
					rec.Complete(metrics.OutcomeInterrupted)
				}
				o.logger.Info("input events ended", "session_id", sess.ID)
				return nil
			}

			switch ev.Kind {
			case transport.InputSpeechStart:
				st := o.State()
				if st != StateGenerating && st != StateSpeaking {
					continue
				}
				// Barge-in: drop the in-flight turn before anything else.
				o.logger.Info("barge-in, interrupting turn", "session_id", sess.ID)
				o.stopGeneration(cur)
				if rec != nil {
					rec.Complete(metrics.OutcomeInterrupted)
				}
				cur, rec, interim = nil, nil, ""
				o.setState(StateListening)

			case transport.InputTranscript:
				if o.State() == StateListening && strings.TrimSpace(ev.Text) != "" {
					rec = o.metrics.BeginTurn(sess.ID, o.brain.Kind())
					o.setState(StateTranscribing)
				}
				o.sessions.Touch(sess.ID)

				if !ev.Final {
					interim = ev.Text
					if o.cfg.EnableSpeculative && cur == nil {
						if debounceArmed && !debounce.Stop() {
							select {
							case <-debounce.C:
							default:
							}
						}
						debounce.Reset(o.cfg.SpeculativeDebounce)
						debounceArmed = true
					}
					continue
				}

				// Final transcript.
				if strings.TrimSpace(ev.Text) == "" {
					continue
				}
				rec.MarkSpeechEnd()
				rec.MarkTranscriptFinal()
				if debounceArmed && !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounceArmed = false

				if cur != nil {
					if sameUtterance(cur.text, ev.Text) {
						// STT providers can repeat a final transcript; a
						// generation is adopted at most once, and a committed
						// one already is.
						if cur.speculative && !cur.adopted() {
							rec.MarkSpeculative()
							cur.text = ev.Text
							close(cur.adopt)
						}
						continue
					}
					// The final transcript differs: the speculative result
					// must never be heard or billed to the session.
					stale := cur.text
					o.stopGeneration(cur)
					cur = nil
					o.metrics.RecordSpeculativeDiscard()
					o.logger.Debug("speculative generation discarded",
						"session_id", sess.ID, "interim", stale, "final", ev.Text)
				}
				o.setState(StateGenerating)
				cur = o.startGeneration(ctx, sess, ev.Text, false, rec)

			}

		case <-debounce.C:
			debounceArmed = false
			if cur != nil || o.State() != StateTranscribing || strings.TrimSpace(interim) == "" {
				continue
			}
			rec.MarkSpeechEnd()
			o.setState(StateGenerating)
			cur = o.startGeneration(ctx, sess, interim, true, rec)

		case note := <-notes:
			switch note.kind {
			case noteFirstDelta:
				o.setState(StateSpeaking)

			case noteDone:
				userText := cur.text
				cur = nil
				if note.err != nil {
					o.failTurn(ctx, sess, note.err)
					finishTurn(metrics.OutcomeFailed)
					continue
				}
				if note.content == "" {
					o.logger.Debug("turn produced no content", "session_id", sess.ID)
					o.sessions.RecordRequest(sess.ID)
					finishTurn(metrics.OutcomeEmpty)
					continue
				}
				o.appendExchange(userText, note.content)
				o.sessions.RecordRequest(sess.ID)
				finishTurn(metrics.OutcomeCompleted)
			}
		}
	}
}

// failTurn logs a failed generation by class and speaks the configured
// fallback so the room is not left mid-exchange in silence.
func (o *Orchestrator) failTurn(ctx context.Context, sess session.Session, err error) {
	switch {
	case brain.IsAuth(err):
		o.logger.Error("brain authentication failed, not retrying",
			"session_id", sess.ID, "error", err)
	case errors.Is(err, context.DeadlineExceeded):
		terr := &TurnTimeoutError{SessionID: sess.ID, Budget: o.cfg.TurnTimeout}
		o.logger.Warn("turn timed out", "session_id", sess.ID, "error", terr)
	case errors.Is(err, context.Canceled):
		return
	default:
		o.logger.Warn("turn failed", "session_id", sess.ID, "error", err)
	}
	o.speakFallback(ctx)
}

func (o *Orchestrator) speakFallback(ctx context.Context) {
	if o.cfg.FailureUtterance == "" || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, fallbackSpeechBudget)
	defer cancel()

	stream, err := o.synth.NewStream(ctx)
	if err != nil {
		o.logger.Warn("fallback synthesis unavailable", "error", err)
		return
	}
	defer stream.Close()
	if err := stream.SendText(o.cfg.FailureUtterance, true); err != nil {
		o.logger.Warn("fallback synthesis failed", "error", err)
		return
	}
	for {
		select {
		case frame, ok := <-stream.Audio():
			if !ok {
				return
			}
			if err := o.publisher.WriteFrame(ctx, frame); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) appendExchange(userText, assistantText string) {
	o.history = append(o.history,
		brain.Message{Role: brain.RoleUser, Content: userText},
		brain.Message{Role: brain.RoleAssistant, Content: assistantText},
	)
	if len(o.history) <= o.cfg.MaxHistory {
		return
	}
	// Trim oldest exchanges, preserving a leading system prompt.
	keepFrom := len(o.history) - o.cfg.MaxHistory
	if o.history[0].Role == brain.RoleSystem {
		o.history = append(o.history[:1], o.history[keepFrom+1:]...)
	} else {
		o.history = o.history[keepFrom:]
	}
}

func (o *Orchestrator) buildMessages(userText string) []brain.Message {
	msgs := make([]brain.Message, 0, len(o.history)+1)
	msgs = append(msgs, o.history...)
	return append(msgs, brain.Message{Role: brain.RoleUser, Content: userText})
}

// correlation maps a session snapshot to the backend-facing identity.
func correlation(sess session.Session) brain.SessionInfo {
	return brain.SessionInfo{
		SessionID:           sess.ID,
		RoomSID:             sess.Identity.RoomSID,
		RoomName:            sess.Identity.RoomName,
		ParticipantIdentity: sess.Identity.ParticipantIdentity,
		ParticipantSID:      sess.Identity.ParticipantSID,
	}
}

// sameUtterance reports whether a speculative interim and the final
// transcript say the same thing, ignoring case, spacing, and trailing
// punctuation.
func sameUtterance(a, b string) bool {
	return normalizeUtterance(a) == normalizeUtterance(b)
}

func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?, ")
	return strings.Join(strings.Fields(s), " ")
}
