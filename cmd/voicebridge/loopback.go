package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/vango-go/voicebridge/pkg/sidechannel"
	"github.com/vango-go/voicebridge/pkg/transport"
)

// loopbackSynthesizer is the development stand-in for a real TTS vendor: it
// turns each text fragment into one "audio" frame carrying the text bytes,
// so the full pipeline runs without vendor credentials.
type loopbackSynthesizer struct{}

func (loopbackSynthesizer) NewStream(ctx context.Context) (transport.SpeechStream, error) {
	return &loopbackStream{
		ctx:   ctx,
		audio: make(chan []byte, 32),
		done:  make(chan struct{}),
	}, nil
}

type loopbackStream struct {
	ctx    context.Context
	mu     sync.Mutex
	audio  chan []byte
	done   chan struct{}
	closed bool
}

func (s *loopbackStream) SendText(text string, last bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speech stream closed")
	}
	if text != "" {
		select {
		case s.audio <- []byte(text):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	if last {
		s.closeLocked()
	}
	return nil
}

func (s *loopbackStream) Audio() <-chan []byte  { return s.audio }
func (s *loopbackStream) Done() <-chan struct{} { return s.done }
func (s *loopbackStream) Err() error            { return nil }

func (s *loopbackStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *loopbackStream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.audio)
		close(s.done)
	}
}

// sideChannelPublisher sends synthesized frames to the client as speech
// status events, the dev equivalent of publishing audio to the room track.
type sideChannelPublisher struct {
	emitter *sidechannel.Emitter
}

func (p *sideChannelPublisher) WriteFrame(ctx context.Context, frame []byte) error {
	return p.emitter.SendStatus(ctx, "speech", string(frame))
}
