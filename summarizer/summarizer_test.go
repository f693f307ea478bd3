package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type mockModel struct {
	reply  string
	err    error
	calls  int
	inputs [][]*schema.Message
}

func (m *mockModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func TestSummarizeEmptyShortCircuits(t *testing.T) {
	m := &mockModel{reply: "unused"}
	s := &Summarizer{Model: m}

	text, ok := s.Summarize(context.Background(), "prompt", nil)
	if !ok || text != NoActivity {
		t.Fatalf("expected no-activity text, got %q ok=%v", text, ok)
	}
	if m.calls != 0 {
		t.Fatalf("expected provider not to be called")
	}
}

func TestSummarizeJoinsSnippets(t *testing.T) {
	m := &mockModel{reply: "  weekly report  "}
	s := &Summarizer{Model: m}

	text, ok := s.Summarize(context.Background(), "Summarize:", []string{"a", "b"})
	if !ok || text != "weekly report" {
		t.Fatalf("unexpected result %q ok=%v", text, ok)
	}
	if m.calls != 1 {
		t.Fatalf("expected one provider call, got %d", m.calls)
	}
	input := m.inputs[0]
	if len(input) != 2 || input[0].Role != schema.System || input[0].Content != SystemInstruction {
		t.Fatalf("expected system instruction first, got %+v", input)
	}
	if input[1].Role != schema.User || input[1].Content != "Summarize:\n\na\n\n---\n\nb" {
		t.Fatalf("unexpected user message %q", input[1].Content)
	}
}

func TestSummarizeProviderError(t *testing.T) {
	s := &Summarizer{Model: &mockModel{err: errors.New("quota exceeded")}}

	text, ok := s.Summarize(context.Background(), "p", []string{"a"})
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.HasPrefix(text, FailurePrefix) || !IsFailure(text) {
		t.Fatalf("expected failure sentinel, got %q", text)
	}
	if strings.Contains(text, "quota") {
		t.Fatalf("provider error leaked into summary: %q", text)
	}
}

func TestSummarizeEmptyReplyIsFailure(t *testing.T) {
	s := &Summarizer{Model: &mockModel{reply: "   "}}
	if text, ok := s.Summarize(context.Background(), "p", []string{"a"}); ok || !IsFailure(text) {
		t.Fatalf("expected failure for empty reply, got %q ok=%v", text, ok)
	}
}

func TestNewChatModelUnknownProvider(t *testing.T) {
	_, err := NewChatModel(context.Background(), ProviderConfig{Provider: "mistral"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewChatModelOpenAI(t *testing.T) {
	cm, err := NewChatModel(context.Background(), ProviderConfig{Provider: "openai", APIKey: "k", BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewChatModel: %v", err)
	}
	if cm == nil {
		t.Fatalf("expected a chat model")
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := BuildPrompt("  ", "body"); got != "body" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if got := BuildPrompt("P", "body"); got != "P\n\nbody" {
		t.Fatalf("unexpected prompt %q", got)
	}
}
