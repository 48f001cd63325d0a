package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/brain"
)

func sseBody(events ...string) string {
	out := ""
	for _, e := range events {
		out += "data: " + e + "\n\n"
	}
	return out
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(brain.Config{Kind: Kind, Token: "test-token", Endpoint: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func collect(t *testing.T, s brain.Stream) []brain.ChatChunk {
	t.Helper()
	var chunks []brain.ChatChunk
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestStreamChat_ContentDeltas(t *testing.T) {
	var gotSessionID, gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.Header.Get("X-Session-ID")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"It's"}}]}`,
			`{"choices":[{"delta":{"content":" sunny"}}]}`,
			`{"choices":[{"delta":{"content":" today"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		))
	})

	s, err := c.StreamChat(context.Background(), brain.ChatOptions{
		Messages: []brain.Message{{Role: brain.RoleUser, Content: "what's the weather"}},
		Session:  &brain.SessionInfo{SessionID: "vs_123"},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer s.Close()

	chunks := collect(t, s)

	if gotSessionID != "vs_123" {
		t.Errorf("X-Session-ID = %q, want vs_123", gotSessionID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	text := ""
	var finish brain.FinishReason
	for _, chunk := range chunks {
		text += chunk.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text != "It's sunny today" {
		t.Errorf("concatenated content = %q, want %q", text, "It's sunny today")
	}
	if finish != brain.FinishStop {
		t.Errorf("finish = %q, want stop", finish)
	}
}

func TestStreamChat_ToolCallDeltas(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Oslo\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		))
	})

	s, err := c.StreamChat(context.Background(), brain.ChatOptions{
		Messages: []brain.Message{{Role: brain.RoleUser, Content: "weather in oslo"}},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer s.Close()

	chunks := collect(t, s)

	args := ""
	name := ""
	var finish brain.FinishReason
	for _, chunk := range chunks {
		for _, tc := range chunk.ToolCalls {
			if tc.Index != 0 {
				t.Errorf("unexpected tool call index %d", tc.Index)
			}
			if tc.Name != "" {
				name = tc.Name
			}
			args += tc.Arguments
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if name != "get_weather" {
		t.Errorf("tool name = %q", name)
	}
	if args != `{"city":"Oslo"}` {
		t.Errorf("reassembled arguments = %q", args)
	}
	if finish != brain.FinishToolCalls {
		t.Errorf("finish = %q, want tool_calls", finish)
	}
}

func TestStreamChat_AuthErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode brain.AuthCode
	}{
		{"token expired", http.StatusUnauthorized, `{"error":{"code":"token_expired","message":"expired"}}`, brain.AuthTokenExpired},
		{"invalid key", http.StatusUnauthorized, `{"error":{"code":"invalid_api_key","message":"bad key"}}`, brain.AuthInvalidToken},
		{"plain 401", http.StatusUnauthorized, `{"error":{"message":"nope"}}`, brain.AuthUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"no access"}}`, brain.AuthForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})

			_, err := c.StreamChat(context.Background(), brain.ChatOptions{})
			var ae *brain.AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AuthError, got %v", err)
			}
			if ae.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", ae.Code, tc.wantCode)
			}
		})
	}
}

func TestStreamChat_SessionErrorMapping(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"session_not_found","message":"gone"}}`)
	})

	_, err := c.StreamChat(context.Background(), brain.ChatOptions{
		Session: &brain.SessionInfo{SessionID: "vs_gone"},
	})
	var se *brain.SessionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SessionError, got %v", err)
	}
	if se.Reason != brain.SessionNotFound || se.SessionID != "vs_gone" {
		t.Errorf("unexpected session error: %+v", se)
	}
}

func TestCancelPending_StopsStream(t *testing.T) {
	started := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hold\"}}]}\n\n")
		flusher.Flush()
		close(started)
		// Hold the connection open; cancellation must cut it.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	s, err := c.StreamChat(context.Background(), brain.ChatOptions{Handle: "h1"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer s.Close()

	if _, err := s.Recv(); err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	<-started

	if err := c.CancelPending(context.Background(), "h1"); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil || err == io.EOF {
			t.Fatalf("expected cancellation error, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not observe cancellation within one read")
	}
}

func TestCancelPending_UnknownHandleIsNoop(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := c.CancelPending(context.Background(), "missing"); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
}
