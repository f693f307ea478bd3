package bot

import (
	"slices"
	"sync"
)

// Settings holds the runtime-editable settings with thread-safe access.
type Settings struct {
	mu          sync.RWMutex
	channels    []string
	summaryTime string
}

// NewSettings initializes settings.
func NewSettings(channels []string, summaryTime string) *Settings {
	return &Settings{channels: slices.Clone(channels), summaryTime: summaryTime}
}

// Channels returns a copy of the configured channel list.
func (s *Settings) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.channels)
}

func (s *Settings) SetChannels(channels []string) {
	s.mu.Lock()
	s.channels = slices.Clone(channels)
	s.mu.Unlock()
}

func (s *Settings) SummaryTime() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryTime
}

func (s *Settings) SetSummaryTime(value string) {
	s.mu.Lock()
	s.summaryTime = value
	s.mu.Unlock()
}
