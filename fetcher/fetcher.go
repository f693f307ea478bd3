package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"channel-digest-bot/channel"
	"channel-digest-bot/model"
)

const (
	// DefaultLookback is the window scanned for channels without a checkpoint.
	DefaultLookback = 7 * 24 * time.Hour
	// DefaultMaxChars is the per-message character budget.
	DefaultMaxChars = 500
)

// ErrSessionRejected marks a source error that fails every channel, such as a
// revoked user session. Sources wrap it.
var ErrSessionRejected = errors.New("fetch session rejected")

// Source reads channel history. Implementations return messages strictly
// newer than since, oldest first.
type Source interface {
	History(ctx context.Context, channel string, since time.Time) ([]model.Message, error)
}

// Checkpoints looks up the last summarized time of a channel.
type Checkpoints interface {
	Get(channel string) (time.Time, bool)
}

// Fetcher collects new messages for a set of channels.
type Fetcher struct {
	Source      Source
	Checkpoints Checkpoints
	Lookback    time.Duration
	MaxChars    int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Window returns the lower bound of the fetch window for a channel.
func (f *Fetcher) Window(name string, now time.Time) time.Time {
	if f.Checkpoints != nil {
		if ts, ok := f.Checkpoints.Get(name); ok {
			return ts
		}
	}
	lookback := f.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return now.UTC().Add(-lookback)
}

// Fetch returns formatted snippets per channel. A channel that fails to fetch
// maps to an empty slice. A rejected session stops the fetch with an error.
func (f *Fetcher) Fetch(ctx context.Context, channels []string) (map[string][]string, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	maxChars := f.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	out := make(map[string][]string, len(channels))
	for _, name := range channels {
		since := f.Window(name, now())
		messages, err := f.Source.History(ctx, channel.Normalize(name), since)
		if errors.Is(err, ErrSessionRejected) {
			logger.Error("fetch_session_rejected", slog.String("channel", name), slog.String("error", err.Error()))
			return out, fmt.Errorf("fetch %s: %w", name, err)
		}
		if err != nil {
			logger.Warn("fetch_channel_failed", slog.String("channel", name), slog.String("error", err.Error()))
			out[name] = []string{}
			continue
		}

		snippets := make([]string, 0, len(messages))
		for _, msg := range messages {
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			snippets = append(snippets, model.Snippet(Truncate(text, maxChars), channel.Link(name, msg.ID)))
		}
		logger.Info("fetch_channel_done", slog.String("channel", name), slog.Time("since", since), slog.Int("messages", len(snippets)))
		out[name] = snippets
	}
	return out, nil
}

// Truncate cuts input to at most limit characters.
func Truncate(input string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit])
}
