package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// DefaultPrompt is used until an administrator sets a custom one.
const DefaultPrompt = `请阅读以下 Telegram 频道在过去一段时间内发布的消息，写一份中文周报：
1. 按主题归纳要点，每个要点一到两句话；
2. 重要消息附上原文链接；
3. 不要编造消息中没有的信息。`

// Store reads and writes the instruction prompt as a plain-text file.
type Store struct {
	Path string

	mu sync.Mutex
}

// Load returns the stored prompt or DefaultPrompt when none is stored.
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPrompt, nil
	}
	if err != nil {
		return DefaultPrompt, fmt.Errorf("read prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return DefaultPrompt, nil
	}
	return text, nil
}

// Save replaces the stored prompt.
func (s *Store) Save(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("prompt must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create prompt dir: %w", err)
	}
	if err := renameio.WriteFile(s.Path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	return nil
}
