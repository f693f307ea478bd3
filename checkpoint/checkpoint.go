// Package checkpoint records, per channel, the time through which messages
// have already been summarized.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"channel-digest-bot/channel"
	"channel-digest-bot/storage"

	"github.com/google/renameio/v2"
)

// Store persists the checkpoint mapping.
type Store interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, checkpoints map[string]time.Time) error
}

// FileStore keeps checkpoints in a JSON object of channel to RFC 3339 UTC time.
type FileStore struct {
	Path   string
	Logger *slog.Logger
}

// Load reads the file. A missing or malformed file yields an empty mapping.
func (f *FileStore) Load(ctx context.Context) (map[string]time.Time, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string]time.Time)
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("checkpoint_file_missing", slog.String("path", f.Path))
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read checkpoints: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("checkpoint_file_malformed", slog.String("path", f.Path), slog.String("error", err.Error()))
		return out, nil
	}
	for name, value := range raw {
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			logger.Warn("checkpoint_entry_malformed", slog.String("channel", name), slog.String("value", value))
			continue
		}
		out[name] = ts.UTC()
	}
	return out, nil
}

// Save writes the whole mapping in one atomic file replacement.
func (f *FileStore) Save(ctx context.Context, checkpoints map[string]time.Time) error {
	raw := make(map[string]string, len(checkpoints))
	for name, ts := range checkpoints {
		raw[name] = ts.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := renameio.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return nil
}

// SQLStore keeps checkpoints in the settings database.
type SQLStore struct {
	Storage *storage.Storage
}

func (s *SQLStore) Load(ctx context.Context) (map[string]time.Time, error) {
	return s.Storage.LoadCheckpoints(ctx)
}

func (s *SQLStore) Save(ctx context.Context, checkpoints map[string]time.Time) error {
	if len(checkpoints) == 0 {
		return s.Storage.ClearCheckpoints(ctx)
	}
	return s.Storage.SaveCheckpoints(ctx, checkpoints)
}

// Book is the in-memory checkpoint mapping used during a run. Callers
// serialize access to it.
type Book struct {
	entries map[string]time.Time
}

func bookKey(name string) string {
	return strings.ToLower(channel.Normalize(name))
}

// NewBook wraps a loaded mapping, keyed by lower-cased canonical channel name.
func NewBook(entries map[string]time.Time) *Book {
	b := &Book{entries: make(map[string]time.Time, len(entries))}
	for name, ts := range entries {
		key := bookKey(name)
		if cur, ok := b.entries[key]; ok && cur.After(ts) {
			continue
		}
		b.entries[key] = ts.UTC()
	}
	return b
}

// Get returns the checkpoint for a channel.
func (b *Book) Get(name string) (time.Time, bool) {
	ts, ok := b.entries[bookKey(name)]
	return ts, ok
}

// Advance moves every channel's checkpoint to now. Checkpoints never move backwards.
func (b *Book) Advance(channels []string, now time.Time) {
	now = now.UTC()
	for _, name := range channels {
		key := bookKey(name)
		if cur, ok := b.entries[key]; ok && cur.After(now) {
			continue
		}
		b.entries[key] = now
	}
}

// Clear drops all checkpoints.
func (b *Book) Clear() {
	b.entries = make(map[string]time.Time)
}

// Len returns the number of channels with a checkpoint.
func (b *Book) Len() int {
	return len(b.entries)
}

// Snapshot returns a copy of the mapping for persistence.
func (b *Book) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Channels returns the channels with a checkpoint in sorted order.
func (b *Book) Channels() []string {
	out := make([]string, 0, len(b.entries))
	for k := range b.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
