package gemini

import (
	"context"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/voicebridge/pkg/brain"
)

func TestConvertOptions_RolesAndSystem(t *testing.T) {
	contents, config := convertOptions(brain.ChatOptions{
		Messages: []brain.Message{
			{Role: brain.RoleSystem, Content: "be brief"},
			{Role: brain.RoleUser, Content: "hi"},
			{Role: brain.RoleAssistant, Content: "hello"},
			{Role: brain.RoleUser, Content: "weather?"},
		},
	})

	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatal("system instruction not mapped")
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("roles = %q, %q", contents[0].Role, contents[1].Role)
	}
}

func TestConvertOptions_Tools(t *testing.T) {
	tool, err := brain.NewTool("lookup", "Look something up.", &struct {
		Query string `json:"query"`
	}{})
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}

	_, config := convertOptions(brain.ChatOptions{Tools: []brain.Tool{tool}})
	if len(config.Tools) != 1 || len(config.Tools[0].FunctionDeclarations) != 1 {
		t.Fatal("tool declarations not mapped")
	}
	if config.Tools[0].FunctionDeclarations[0].Name != "lookup" {
		t.Errorf("name = %q", config.Tools[0].FunctionDeclarations[0].Name)
	}
}

func TestStream_PumpStopsWhenClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		client: &Client{pending: map[string]context.CancelFunc{"h": cancel}},
		handle: "h",
		cancel: cancel,
		items:  make(chan streamItem, 1),
	}

	// Endless SDK iterator: the producer runs far ahead of the consumer.
	seq := func(yield func(*genai.GenerateContentResponse, error) bool) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "word "}}},
			}},
		}
		for yield(resp, nil) {
		}
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(ctx, seq)
	}()

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-pumpDone:
	case <-time.After(2 * time.Second):
		t.Fatal("producer goroutine still running after Close")
	}
	if len(s.client.pending) != 0 {
		t.Error("pending handle not released")
	}
}

func TestConvertResponse_TextAndFinish(t *testing.T) {
	toolIndex := 0
	chunk, used := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "sunny"}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}, &toolIndex)

	if !used {
		t.Fatal("chunk unused")
	}
	if chunk.Content != "sunny" || chunk.FinishReason != brain.FinishStop {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestConvertResponse_FunctionCallIndexes(t *testing.T) {
	toolIndex := 0
	first, _ := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{Name: "a", Args: map[string]any{"x": 1}}},
			}},
		}},
	}, &toolIndex)
	second, _ := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{Name: "b", Args: map[string]any{}}},
			}},
		}},
	}, &toolIndex)

	if first.ToolCalls[0].Index != 0 || second.ToolCalls[0].Index != 1 {
		t.Errorf("indexes = %d, %d; want 0, 1", first.ToolCalls[0].Index, second.ToolCalls[0].Index)
	}
	if first.ToolCalls[0].Arguments != `{"x":1}` {
		t.Errorf("arguments = %q", first.ToolCalls[0].Arguments)
	}
}
