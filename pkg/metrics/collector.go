package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeEmpty       Outcome = "empty"
)

// Publisher receives the per-turn latency breakdown as a structured event.
// The side-channel emitter satisfies this.
type Publisher interface {
	SendMetrics(ctx context.Context, fields map[string]float64) error
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Logger    *slog.Logger
	Prom      *Prom
	Publisher Publisher
	Now       func() time.Time
}

// Collector creates per-turn recorders. It is a read-only consumer of
// orchestrator events; emission is fire-and-forget relative to the turn.
type Collector struct {
	logger    *slog.Logger
	prom      *Prom
	publisher Publisher
	now       func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{
		logger:    cfg.Logger,
		prom:      cfg.Prom,
		publisher: cfg.Publisher,
		now:       cfg.Now,
	}
}

// RecordSpeculativeDiscard counts one discarded speculative generation.
func (c *Collector) RecordSpeculativeDiscard() {
	if c == nil {
		return
	}
	if c.prom != nil {
		c.prom.SpeculativeDiscards.Inc()
	}
	c.logger.Debug("speculative generation discarded")
}

// BeginTurn starts recording one turn.
func (c *Collector) BeginTurn(sessionID, brainKind string) *TurnRecorder {
	if c == nil {
		return nil
	}
	return &TurnRecorder{
		collector: c,
		sessionID: sessionID,
		brainKind: brainKind,
	}
}

// TurnRecorder captures one turn's timestamps. Marks are first-wins: the
// orchestrator may observe the same boundary more than once (retry after a
// session error) and only the first occurrence defines the latency.
type TurnRecorder struct {
	collector *Collector
	sessionID string
	brainKind string

	mu              sync.Mutex
	speechEnd       time.Time
	transcriptFinal time.Time
	firstDelta      time.Time
	firstAudio      time.Time
	completed       bool
	speculative     bool
}

func (r *TurnRecorder) mark(field *time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if field.IsZero() {
		*field = r.collector.now()
	}
}

// MarkSpeechEnd records the end of user speech (final or stable interim).
func (r *TurnRecorder) MarkSpeechEnd() {
	if r != nil {
		r.mark(&r.speechEnd)
	}
}

// MarkTranscriptFinal records arrival of the final transcript.
func (r *TurnRecorder) MarkTranscriptFinal() {
	if r != nil {
		r.mark(&r.transcriptFinal)
	}
}

// MarkFirstDelta records the first backend content delta.
func (r *TurnRecorder) MarkFirstDelta() {
	if r != nil {
		r.mark(&r.firstDelta)
	}
}

// MarkFirstAudio records the first synthesized audio frame.
func (r *TurnRecorder) MarkFirstAudio() {
	if r != nil {
		r.mark(&r.firstAudio)
	}
}

// MarkSpeculative notes that the served generation began speculatively.
func (r *TurnRecorder) MarkSpeculative() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.speculative = true
	r.mu.Unlock()
}

// Report is the derived latency breakdown for one turn.
type Report struct {
	SessionID   string
	Brain       string
	Outcome     Outcome
	Speculative bool

	Endpointing    time.Duration
	Generation     time.Duration
	SynthesisStart time.Duration
	Total          time.Duration
}

// Fields renders the report as the wire metrics map, in milliseconds.
// Stages that never happened (failed or interrupted turns) are omitted.
func (r Report) Fields() map[string]float64 {
	fields := map[string]float64{}
	put := func(key string, d time.Duration) {
		if d > 0 {
			fields[key] = float64(d) / float64(time.Millisecond)
		}
	}
	put("endpointing_ms", r.Endpointing)
	put("generation_ms", r.Generation)
	put("synthesis_start_ms", r.SynthesisStart)
	put("total_ms", r.Total)
	if r.Speculative {
		fields["speculative"] = 1
	}
	return fields
}

// Complete finalizes the turn, derives the breakdown, and publishes it.
// Publication happens on its own goroutine; Complete returns immediately.
func (r *TurnRecorder) Complete(outcome Outcome) Report {
	if r == nil {
		return Report{}
	}

	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return Report{}
	}
	r.completed = true
	done := r.collector.now()

	report := Report{
		SessionID:   r.sessionID,
		Brain:       r.brainKind,
		Outcome:     outcome,
		Speculative: r.speculative,
	}
	if !r.speechEnd.IsZero() && !r.transcriptFinal.IsZero() {
		report.Endpointing = r.transcriptFinal.Sub(r.speechEnd)
	}
	if !r.transcriptFinal.IsZero() && !r.firstDelta.IsZero() {
		report.Generation = r.firstDelta.Sub(r.transcriptFinal)
	}
	if !r.firstDelta.IsZero() && !r.firstAudio.IsZero() {
		report.SynthesisStart = r.firstAudio.Sub(r.firstDelta)
	}
	if !r.speechEnd.IsZero() {
		report.Total = done.Sub(r.speechEnd)
	}
	r.mu.Unlock()

	c := r.collector
	if c.prom != nil {
		c.prom.TurnsTotal.WithLabelValues(string(outcome), r.brainKind).Inc()
		observe := func(stage string, d time.Duration) {
			if d > 0 {
				c.prom.StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
			}
		}
		observe("endpointing", report.Endpointing)
		observe("generation", report.Generation)
		observe("synthesis_start", report.SynthesisStart)
		observe("total", report.Total)
	}

	if c.publisher != nil {
		fields := report.Fields()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.publisher.SendMetrics(ctx, fields); err != nil {
				c.logger.Debug("metrics publish failed", "error", err)
			}
		}()
	}

	c.logger.Debug("turn complete",
		"session_id", r.sessionID, "outcome", outcome,
		"total_ms", report.Total.Milliseconds())
	return report
}
