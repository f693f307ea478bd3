// Package conversation routes free-text replies from a user to the flow that
// is waiting for them.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrBusy is returned when the user already has an open inbox.
	ErrBusy = errors.New("conversation already open")
	// ErrTimeout is returned when no input arrives in time.
	ErrTimeout = errors.New("conversation timed out")
	// ErrCancelled is returned when the user sends a cancel keyword.
	ErrCancelled = errors.New("conversation cancelled")
)

var cancelWords = []string{"取消", "退出", "cancel", "/cancel"}

// IsCancel reports whether text is a cancel keyword.
func IsCancel(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, w := range cancelWords {
		if text == w {
			return true
		}
	}
	return false
}

// Hub owns the per-user inboxes.
type Hub struct {
	mu      sync.Mutex
	inboxes map[int64]*Inbox
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{inboxes: make(map[int64]*Inbox)}
}

// Open registers an inbox for the user.
func (h *Hub) Open(userID int64) (*Inbox, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[userID]; ok {
		return nil, ErrBusy
	}
	in := &Inbox{hub: h, userID: userID, ch: make(chan string, 1)}
	h.inboxes[userID] = in
	return in, nil
}

// Waiting reports whether the user has an open inbox.
func (h *Hub) Waiting(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.inboxes[userID]
	return ok
}

// Deliver hands text to the user's inbox. It reports false when nobody is
// waiting or the previous input has not been consumed yet.
func (h *Hub) Deliver(userID int64, text string) bool {
	h.mu.Lock()
	in, ok := h.inboxes[userID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case in.ch <- text:
		return true
	default:
		return false
	}
}

func (h *Hub) remove(in *Inbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.inboxes[in.userID]; ok && cur == in {
		delete(h.inboxes, in.userID)
	}
}

// Inbox receives one user's replies.
type Inbox struct {
	hub    *Hub
	userID int64
	ch     chan string
	once   sync.Once
}

// Next waits for the next reply. Each call starts a fresh timeout.
func (in *Inbox) Next(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrTimeout
	case text := <-in.ch:
		text = strings.TrimSpace(text)
		if IsCancel(text) {
			return "", ErrCancelled
		}
		return text, nil
	}
}

// Close unregisters the inbox. It is safe to call more than once.
func (in *Inbox) Close() {
	in.once.Do(func() { in.hub.remove(in) })
}
