package model

import (
	"fmt"
	"time"
)

// Message is a single text post fetched from a channel.
type Message struct {
	ID   int
	Text string
	Date time.Time
}

// Snippet renders a message body with its permalink as fed to the summarizer.
func Snippet(text, link string) string {
	return fmt.Sprintf("内容: %s\n链接: %s", text, link)
}

// Stats aggregates the outcome of one job run.
type Stats struct {
	Channels int
	Empty    int
	Messages int
	Success  int
	Fail     int
}

// Add merges delivery counts into the stats.
func (s *Stats) Add(success, fail int) {
	s.Success += success
	s.Fail += fail
}

func (s Stats) String() string {
	return fmt.Sprintf("channels=%d empty=%d messages=%d success=%d fail=%d", s.Channels, s.Empty, s.Messages, s.Success, s.Fail)
}
