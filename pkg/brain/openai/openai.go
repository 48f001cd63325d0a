// Package openai implements the brain contract against any
// OpenAI-compatible chat-completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/brain"
)

const (
	// Kind is the registry name for this backend.
	Kind = "openai"

	DefaultEndpoint = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
)

// Factory constructs an OpenAI-compatible backend from registry config.
func Factory(_ context.Context, cfg brain.Config) (brain.Brain, error) {
	return New(cfg)
}

// Client streams chat completions over SSE from an OpenAI-compatible API.
type Client struct {
	endpoint   string
	token      string
	model      string
	label      string
	httpClient *http.Client

	mu             sync.Mutex
	defaultSession *brain.SessionInfo
	pending        map[string]context.CancelFunc
}

// New creates a Client. cfg.Token is required; endpoint and model fall back
// to OpenAI defaults.
func New(cfg brain.Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("openai backend: token is required")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	label := cfg.Options["label"]
	if label == "" {
		label = "OpenAI"
	}

	return &Client{
		endpoint:   endpoint,
		token:      cfg.Token,
		model:      model,
		label:      label,
		httpClient: &http.Client{},
		pending:    make(map[string]context.CancelFunc),
	}, nil
}

func (c *Client) Kind() string  { return Kind }
func (c *Client) Label() string { return c.label }
func (c *Client) Model() string { return c.model }

// SetDefaultSession binds the session used when a call omits one.
func (c *Client) SetDefaultSession(info brain.SessionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultSession = &info
}

// CancelPending aborts the call registered under handle. Unknown handles are
// a no-op; cancellation may race with normal completion.
func (c *Client) CancelPending(_ context.Context, handle string) error {
	c.mu.Lock()
	cancel := c.pending[handle]
	delete(c.pending, handle)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (c *Client) register(handle string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[handle] = cancel
}

func (c *Client) release(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, handle)
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []brain.Message `json:"messages"`
	Stream      bool            `json:"stream"`
	Tools       []wireTool      `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamChat starts a streamed chat completion. The returned stream is
// aborted by CancelPending with the same handle, or by canceling ctx.
func (c *Client) StreamChat(ctx context.Context, opts brain.ChatOptions) (brain.Stream, error) {
	handle := opts.Handle
	if handle == "" {
		handle = uuid.NewString()
	}

	session := opts.Session
	if session == nil {
		c.mu.Lock()
		session = c.defaultSession
		c.mu.Unlock()
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    opts.Messages,
		Stream:      true,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	for _, tool := range opts.Tools {
		reqBody.Tools = append(reqBody.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	c.register(handle, cancel)

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		c.release(handle)
		cancel()
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)
	applySessionHeaders(req, session)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.release(handle)
		cancel()
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		c.release(handle)
		cancel()
		return nil, c.decodeError(resp, session)
	}

	return &stream{
		client: c,
		handle: handle,
		ctx:    callCtx,
		cancel: cancel,
		body:   resp.Body,
		sse:    newSSEReader(resp.Body),
	}, nil
}

func applySessionHeaders(req *http.Request, session *brain.SessionInfo) {
	if session == nil {
		return
	}
	set := func(key, value string) {
		if value != "" {
			req.Header.Set(key, value)
		}
	}
	set("X-Session-ID", session.SessionID)
	set("X-Room-SID", session.RoomSID)
	set("X-Room-Name", session.RoomName)
	set("X-Participant-Identity", session.ParticipantIdentity)
	set("X-Participant-SID", session.ParticipantSID)
}

func (c *Client) decodeError(resp *http.Response, session *brain.SessionInfo) error {
	var envelope apiErrorEnvelope
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(body, &envelope)

	apiErr := envelope.Error
	message := apiErr.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	sessionID := ""
	if session != nil {
		sessionID = session.SessionID
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		switch apiErr.Code {
		case "token_expired":
			return brain.NewAuthError(brain.AuthTokenExpired, message)
		case "invalid_api_key", "invalid_token":
			return brain.NewAuthError(brain.AuthInvalidToken, message)
		default:
			return brain.NewAuthError(brain.AuthUnauthorized, message)
		}
	case http.StatusForbidden:
		return brain.NewAuthError(brain.AuthForbidden, message)
	case http.StatusGone:
		return brain.NewSessionError(brain.SessionExpired, sessionID, message)
	case http.StatusNotFound:
		if strings.HasPrefix(apiErr.Code, "session_") {
			return brain.NewSessionError(brain.SessionNotFound, sessionID, message)
		}
	case http.StatusUnprocessableEntity:
		if strings.HasPrefix(apiErr.Code, "session_") {
			return brain.NewSessionError(brain.SessionInvalid, sessionID, message)
		}
	}

	return fmt.Errorf("openai backend: status %d: %s", resp.StatusCode, message)
}

type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type stream struct {
	client *Client
	handle string
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	sse    *sseReader
	done   bool
}

func (s *stream) Recv() (brain.ChatChunk, error) {
	if s.done {
		return brain.ChatChunk{}, io.EOF
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.finish()
			return brain.ChatChunk{}, err
		}

		data, err := s.sse.Next()
		if err != nil {
			s.finish()
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return brain.ChatChunk{}, ctxErr
			}
			if err == io.EOF {
				return brain.ChatChunk{}, io.EOF
			}
			return brain.ChatChunk{}, fmt.Errorf("read chat stream: %w", err)
		}

		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			s.finish()
			return brain.ChatChunk{}, io.EOF
		}

		var payload chunkPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			s.finish()
			return brain.ChatChunk{}, fmt.Errorf("decode chat delta: %w", err)
		}
		if len(payload.Choices) == 0 {
			continue
		}

		choice := payload.Choices[0]
		chunk := brain.ChatChunk{Content: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, brain.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		switch choice.FinishReason {
		case "stop":
			chunk.FinishReason = brain.FinishStop
		case "tool_calls":
			chunk.FinishReason = brain.FinishToolCalls
		case "length":
			chunk.FinishReason = brain.FinishLength
		}
		return chunk, nil
	}
}

func (s *stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.client.release(s.handle)
	_ = s.body.Close()
}

func (s *stream) Close() error {
	s.cancel()
	s.finish()
	return nil
}
