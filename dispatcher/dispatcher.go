package dispatcher

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	// KindGroup addresses a group chat or channel.
	KindGroup = "group"
	// KindUser addresses a private chat.
	KindUser = "user"

	defaultMinDelay = time.Second
	defaultMaxDelay = 3 * time.Second

	placeholder = "{channel_name}"
)

// Target is a delivery destination.
type Target struct {
	Kind string
	ID   string
}

// Targets builds the delivery list, groups first.
func Targets(groups, users []string) []Target {
	out := make([]Target, 0, len(groups)+len(users))
	for _, id := range groups {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, Target{Kind: KindGroup, ID: id})
		}
	}
	for _, id := range users {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, Target{Kind: KindUser, ID: id})
		}
	}
	return out
}

// Sender delivers one rendered message to one target.
type Sender interface {
	SendTo(ctx context.Context, recipient string, text string) error
}

// Result counts deliveries.
type Result struct {
	Success int
	Fail    int
}

// Render builds the outbound message for a channel summary.
func Render(titleTmpl, footerTmpl, channelName, summary string) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(titleTmpl, placeholder, channelName))
	b.WriteString("\n\n")
	b.WriteString(summary)
	if footer := strings.ReplaceAll(footerTmpl, placeholder, channelName); strings.TrimSpace(footer) != "" {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}
	return b.String()
}

// Dispatcher delivers summaries to every target, one at a time.
type Dispatcher struct {
	Sender   Sender
	Targets  []Target
	Title    string
	Footer   string
	MinDelay time.Duration
	MaxDelay time.Duration
	// Sleep waits between sends; it returns early when ctx is done.
	Sleep  func(ctx context.Context, d time.Duration)
	Jitter func(min, max time.Duration) time.Duration
	Logger *slog.Logger
}

// Dispatch renders and sends the summary. Failures are counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, channelName, summary string) Result {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var res Result
	if strings.TrimSpace(summary) == "" {
		logger.Warn("dispatch_empty_summary", slog.String("channel", channelName))
		return res
	}
	if len(d.Targets) == 0 {
		logger.Info("dispatch_no_targets", slog.String("channel", channelName))
		return res
	}

	text := Render(d.Title, d.Footer, channelName, summary)
	for i, target := range d.Targets {
		if i > 0 {
			d.sleep(ctx, d.delay())
		}
		if err := d.Sender.SendTo(ctx, target.ID, text); err != nil {
			res.Fail++
			logger.Warn("dispatch_send_failed", slog.String("channel", channelName), slog.String("kind", target.Kind), slog.String("target", target.ID), slog.String("error", err.Error()))
			continue
		}
		res.Success++
		logger.Info("dispatch_sent", slog.String("channel", channelName), slog.String("kind", target.Kind), slog.String("target", target.ID))
	}
	return res
}

// Recipients returns the number of configured targets.
func (d *Dispatcher) Recipients() int {
	return len(d.Targets)
}

func (d *Dispatcher) delay() time.Duration {
	lo, hi := d.MinDelay, d.MaxDelay
	if lo <= 0 && hi <= 0 {
		lo, hi = defaultMinDelay, defaultMaxDelay
	}
	if hi < lo {
		hi = lo
	}
	if d.Jitter != nil {
		return d.Jitter(lo, hi)
	}
	return Uniform(lo, hi)
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(ctx, dur)
		return
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Uniform returns a uniformly distributed duration in [lo, hi].
func Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
