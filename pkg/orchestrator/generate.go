package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/brain"
	"github.com/vango-go/voicebridge/pkg/metrics"
	"github.com/vango-go/voicebridge/pkg/session"
	"github.com/vango-go/voicebridge/pkg/transport"
)

type genNoteKind int

const (
	noteFirstDelta genNoteKind = iota
	noteDone
)

type genNote struct {
	kind    genNoteKind
	content string
	err     error
}

// generation is one in-flight brain call plus its synthesis feed. The
// goroutine behind it reports through notes and closes done when it has
// fully stopped, including its audio pump; done closing is the cancellation
// acknowledgment the turn loop waits on.
type generation struct {
	handle      string
	text        string
	speculative bool

	cancel context.CancelFunc
	adopt  chan struct{}
	notes  chan genNote
	done   chan struct{}
}

// startGeneration launches the brain call for text. A speculative call stays
// mute until adopt closes; a committed call speaks as deltas arrive.
func (o *Orchestrator) startGeneration(ctx context.Context, sess session.Session, text string, speculative bool, rec *metrics.TurnRecorder) *generation {
	g := &generation{
		handle:      uuid.NewString(),
		text:        text,
		speculative: speculative,
		adopt:       make(chan struct{}),
		notes:       make(chan genNote, 4),
		done:        make(chan struct{}),
	}
	if !speculative {
		close(g.adopt)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	g.cancel = cancel
	msgs := o.buildMessages(text)

	o.logger.Debug("generation started", "session_id", sess.ID,
		"handle", g.handle, "speculative", speculative)
	go o.runGeneration(genCtx, g, sess, msgs, rec)
	return g
}

// stopGeneration cancels a generation and waits for its acknowledgment. No
// audio from it reaches the publisher after this returns.
func (o *Orchestrator) stopGeneration(g *generation) {
	g.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := o.brain.CancelPending(ctx, g.handle); err != nil {
		o.logger.Warn("cancel pending call failed", "handle", g.handle, "error", err)
	}
	cancel()
	<-g.done
}

func (o *Orchestrator) runGeneration(ctx context.Context, g *generation, sess session.Session, msgs []brain.Message, rec *metrics.TurnRecorder) {
	defer close(g.done)
	defer g.cancel()

	info := correlation(sess)
	content, err := o.streamOnce(ctx, g, msgs, info, rec)
	if err != nil && brain.IsSession(err) && content == "" {
		// The backend no longer knows this session: force a fresh resolve
		// and retry exactly once.
		o.logger.Warn("backend rejected session, re-resolving",
			"session_id", sess.ID, "error", err)
		fresh := o.sessions.Resolve(sess.Identity)
		content, err = o.streamOnce(ctx, g, msgs, correlation(fresh), rec)
	}
	g.notes <- genNote{kind: noteDone, content: content, err: err}
}

// streamOnce runs one brain call to completion, feeding adopted content into
// synthesis at sentence granularity. It returns the full assistant text.
func (o *Orchestrator) streamOnce(ctx context.Context, g *generation, msgs []brain.Message, info brain.SessionInfo, rec *metrics.TurnRecorder) (string, error) {
	stream, err := o.brain.StreamChat(ctx, brain.ChatOptions{
		Messages: msgs,
		Tools:    o.cfg.Tools,
		Session:  &info,
		Handle:   g.handle,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var (
		full      strings.Builder
		seg       segmenter
		queued    []string // sentences completed before adoption
		tools     toolAccumulator
		sp        *speaker
		announced bool
	)
	defer func() {
		if sp != nil {
			sp.stop(ctx)
		}
	}()

	speak := func(sentence string, last bool) error {
		if sp == nil {
			var serr error
			if sp, serr = o.newSpeaker(ctx, rec); serr != nil {
				return serr
			}
		}
		return sp.say(sentence, last)
	}

	for {
		chunk, rerr := stream.Recv()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return full.String(), rerr
		}

		for _, delta := range chunk.ToolCalls {
			for _, call := range tools.add(delta) {
				o.announceToolCall(ctx, call)
			}
		}
		if chunk.FinishReason != "" {
			for _, call := range tools.flush() {
				o.announceToolCall(ctx, call)
			}
		}
		if chunk.Content == "" {
			continue
		}

		if !announced {
			announced = true
			rec.MarkFirstDelta()
			g.notes <- genNote{kind: noteFirstDelta}
		}
		full.WriteString(chunk.Content)

		sentences := seg.Push(chunk.Content)
		if !g.adopted() {
			queued = append(queued, sentences...)
			continue
		}
		for _, s := range append(queued, sentences...) {
			if err := speak(s, false); err != nil {
				return full.String(), err
			}
		}
		queued = queued[:0]
	}

	if full.Len() == 0 {
		return "", nil
	}

	// A speculative result is spoken only once adopted; block here until the
	// turn loop decides, or the call is discarded.
	if g.speculative {
		select {
		case <-g.adopt:
		case <-ctx.Done():
			return full.String(), ctx.Err()
		}
	}

	if rest := seg.Flush(); rest != "" {
		queued = append(queued, rest)
	}
	for i, s := range queued {
		if err := speak(s, i == len(queued)-1); err != nil {
			return full.String(), err
		}
	}
	if len(queued) == 0 && sp != nil {
		// Everything was spoken mid-stream; flush the provider.
		if err := sp.say("", true); err != nil {
			return full.String(), err
		}
	}
	if sp != nil {
		if err := sp.finish(ctx); err != nil {
			return full.String(), err
		}
		sp = nil
	}
	return full.String(), nil
}

func (g *generation) adopted() bool {
	select {
	case <-g.adopt:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) announceToolCall(ctx context.Context, call toolCall) {
	o.logger.Debug("tool call surfaced", "tool", call.name)
	if o.events == nil {
		return
	}
	detail := call.args
	if detail == "" {
		detail = "{}"
	}
	if err := o.events.SendStatus(ctx, "tool_call:"+call.name, detail); err != nil {
		o.logger.Warn("tool status emit failed", "tool", call.name, "error", err)
	}
}

// toolCall is one reassembled tool invocation from indexed argument deltas.
type toolCall struct {
	id   string
	name string
	args string
}

// toolAccumulator stitches fragmented tool-call deltas back together by
// index. A fragment for a higher index completes every lower one; the rest
// complete when the stream finishes.
type toolAccumulator struct {
	calls   []toolCall
	emitted int
}

func (a *toolAccumulator) add(d brain.ToolCallDelta) []toolCall {
	for len(a.calls) <= d.Index {
		a.calls = append(a.calls, toolCall{})
	}
	call := &a.calls[d.Index]
	if d.ID != "" {
		call.id = d.ID
	}
	if d.Name != "" {
		call.name = d.Name
	}
	call.args += d.Arguments

	var completed []toolCall
	for a.emitted < d.Index {
		completed = append(completed, a.calls[a.emitted])
		a.emitted++
	}
	return completed
}

func (a *toolAccumulator) flush() []toolCall {
	var out []toolCall
	for a.emitted < len(a.calls) {
		out = append(out, a.calls[a.emitted])
		a.emitted++
	}
	return out
}

// speaker feeds one speech stream and pumps its audio to the publisher. The
// pump observes the generation context, so a canceled turn stops emitting
// frames within one synthesis chunk.
type speaker struct {
	stream   transport.SpeechStream
	pumpDone chan struct{}
}

func (o *Orchestrator) newSpeaker(ctx context.Context, rec *metrics.TurnRecorder) (*speaker, error) {
	stream, err := o.synth.NewStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open speech stream: %w", err)
	}
	sp := &speaker{stream: stream, pumpDone: make(chan struct{})}

	go func() {
		defer close(sp.pumpDone)
		first := true
		for {
			select {
			case frame, ok := <-stream.Audio():
				if !ok {
					return
				}
				if first {
					first = false
					rec.MarkFirstAudio()
				}
				if err := o.publisher.WriteFrame(ctx, frame); err != nil {
					o.logger.Warn("audio publish failed", "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return sp, nil
}

func (sp *speaker) say(sentence string, last bool) error {
	return sp.stream.SendText(sentence, last)
}

// finish waits for the synthesis tail: provider Done, then the pump.
func (sp *speaker) finish(ctx context.Context) error {
	select {
	case <-sp.stream.Done():
	case <-ctx.Done():
	}
	_ = sp.stream.Close()
	<-sp.pumpDone
	if err := sp.stream.Err(); err != nil {
		return fmt.Errorf("speech synthesis: %w", err)
	}
	return ctx.Err()
}

// stop tears the speaker down without waiting for the synthesis tail.
func (sp *speaker) stop(ctx context.Context) {
	_ = sp.stream.Close()
	select {
	case <-sp.pumpDone:
	case <-ctx.Done():
		<-sp.pumpDone
	}
}
