package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	// SystemInstruction is sent with every summarization request.
	SystemInstruction = "你是一个专业的资讯摘要助手，擅长提取重点并保持客观。"
	// NoActivity is returned for a channel without new messages.
	NoActivity = "本周无新动态。"
	// FailurePrefix starts every failure summary.
	FailurePrefix = "AI 分析失败"
	// Separator joins message snippets.
	Separator = "\n\n---\n\n"

	claudeMaxTokens = 4096
)

// ErrUnknownProvider is returned for provider names without a constructor.
var ErrUnknownProvider = errors.New("unknown provider")

var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"gemini": "gemini-2.0-flash",
	"claude": "claude-3-5-haiku-latest",
}

// Providers lists the supported provider names.
func Providers() []string {
	return []string{"openai", "gemini", "claude"}
}

// ChatModel is the part of an eino chat model the summarizer uses.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ProviderConfig selects and configures a chat model.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewChatModel builds the chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg ProviderConfig) (ChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModels[cfg.Provider]
	}
	switch cfg.Provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURL,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// Summarizer turns a channel's message snippets into a report.
type Summarizer struct {
	Model  ChatModel
	Logger *slog.Logger
}

// Summarize returns the report for one channel. ok is false when the provider
// failed; the returned text is then a failure notice starting with FailurePrefix.
func (s *Summarizer) Summarize(ctx context.Context, prompt string, snippets []string) (string, bool) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(snippets) == 0 {
		return NoActivity, true
	}

	joined := strings.Join(snippets, Separator)
	input := []*schema.Message{
		schema.SystemMessage(SystemInstruction),
		schema.UserMessage(BuildPrompt(prompt, joined)),
	}

	start := time.Now()
	resp, err := s.Model.Generate(ctx, input)
	if err != nil {
		logger.Warn("summarize_failed", slog.Int("snippets", len(snippets)), slog.String("error", err.Error()))
		return FailurePrefix + "，请检查AI提供商配置和网络连接", false
	}
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		logger.Warn("summarize_empty", slog.Int("snippets", len(snippets)))
		return FailurePrefix + "：模型返回了空内容", false
	}
	logger.Info("summarize_done", slog.Int("snippets", len(snippets)), slog.Duration("elapsed", time.Since(start)), slog.Int("chars", len([]rune(text))))
	return text, true
}

// BuildPrompt places the instruction prompt before the joined messages.
func BuildPrompt(prompt, joined string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return joined
	}
	return prompt + "\n\n" + joined
}

// IsFailure reports whether a summary is a failure notice.
func IsFailure(summary string) bool {
	return strings.TrimSpace(summary) == "" || strings.HasPrefix(summary, FailurePrefix)
}
