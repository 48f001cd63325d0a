// Package gemini implements the brain contract on the Gemini API via the
// official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/vango-go/voicebridge/pkg/brain"
)

const (
	// Kind is the registry name for this backend.
	Kind = "gemini"

	defaultModel = "gemini-2.0-flash"
)

// Factory constructs a Gemini backend from registry config.
func Factory(ctx context.Context, cfg brain.Config) (brain.Brain, error) {
	return New(ctx, cfg)
}

// Client streams chat completions from the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	label  string

	mu             sync.Mutex
	defaultSession *brain.SessionInfo
	pending        map[string]context.CancelFunc
}

// New creates a Client. cfg.Token is the Gemini API key.
func New(ctx context.Context, cfg brain.Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("gemini backend: token is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Token,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini backend: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	label := cfg.Options["label"]
	if label == "" {
		label = "Gemini"
	}

	return &Client{
		client:  client,
		model:   model,
		label:   label,
		pending: make(map[string]context.CancelFunc),
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

// CancelPending aborts the call registered under handle.
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

// StreamChat starts a streamed generation. Session correlation is carried in
// HTTP headers on every request the SDK issues for this call.
func (c *Client) StreamChat(ctx context.Context, opts brain.ChatOptions) (brain.Stream, error) {
	handle := opts.Handle
	if handle == "" {
		handle = uuid.NewString()
	}

	contents, config := convertOptions(opts)

	callCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pending[handle] = cancel
	c.mu.Unlock()

	s := &stream{
		client: c,
		handle: handle,
		cancel: cancel,
		items:  make(chan streamItem, 16),
	}
	go s.pump(callCtx, c.client.Models.GenerateContentStream(callCtx, c.model, contents, config))

	return s, nil
}

func convertOptions(opts brain.ChatOptions) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	config := &genai.GenerateContentConfig{}

	for _, msg := range opts.Messages {
		switch msg.Role {
		case brain.RoleSystem:
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case brain.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	if len(opts.Tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range opts.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if len(t.InputSchema) > 0 {
				decl.ParametersJsonSchema = json.RawMessage(t.InputSchema)
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, decl)
		}
		config.Tools = []*genai.Tool{tool}
	}

	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	return contents, config
}

func convertResponse(resp *genai.GenerateContentResponse, toolIndex *int) (brain.ChatChunk, bool) {
	var chunk brain.ChatChunk
	used := false

	if len(resp.Candidates) == 0 {
		return chunk, false
	}
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				chunk.Content += part.Text
				used = true
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				chunk.ToolCalls = append(chunk.ToolCalls, brain.ToolCallDelta{
					Index:     *toolIndex,
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				})
				*toolIndex++
				used = true
			}
		}
	}

	switch candidate.FinishReason {
	case genai.FinishReasonStop:
		if len(chunk.ToolCalls) > 0 {
			chunk.FinishReason = brain.FinishToolCalls
		} else {
			chunk.FinishReason = brain.FinishStop
		}
		used = true
	case genai.FinishReasonMaxTokens:
		chunk.FinishReason = brain.FinishLength
		used = true
	}

	return chunk, used
}

func mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return brain.NewAuthError(brain.AuthUnauthorized, apiErr.Message)
		case 403:
			return brain.NewAuthError(brain.AuthForbidden, apiErr.Message)
		}
	}
	return fmt.Errorf("gemini backend: %w", err)
}

type streamItem struct {
	chunk brain.ChatChunk
	err   error
}

type stream struct {
	client *Client
	handle string
	cancel context.CancelFunc
	items  chan streamItem
	done   bool
}

// pump drains the SDK iterator into items. Every send also watches the call
// context so an abandoned consumer cannot park this goroutine.
func (s *stream) pump(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) {
	defer close(s.items)
	toolIndex := 0
	for resp, err := range seq {
		if err != nil {
			s.deliver(ctx, streamItem{err: mapError(ctx, err)})
			return
		}
		chunk, used := convertResponse(resp, &toolIndex)
		if used && !s.deliver(ctx, streamItem{chunk: chunk}) {
			return
		}
	}
}

func (s *stream) deliver(ctx context.Context, item streamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *stream) Recv() (brain.ChatChunk, error) {
	if s.done {
		return brain.ChatChunk{}, io.EOF
	}
	item, ok := <-s.items
	if !ok {
		s.finish()
		return brain.ChatChunk{}, io.EOF
	}
	if item.err != nil {
		s.finish()
		return brain.ChatChunk{}, item.err
	}
	return item.chunk, nil
}

func (s *stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.client.mu.Lock()
	delete(s.client.pending, s.handle)
	s.client.mu.Unlock()
}

func (s *stream) Close() error {
	s.cancel()
	s.finish()
	return nil
}
