// Package job runs the weekly pipeline: fetch, summarize, deliver and record
// checkpoints for every configured channel.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"channel-digest-bot/channel"
	"channel-digest-bot/checkpoint"
	"channel-digest-bot/dispatcher"
	"channel-digest-bot/model"
	"channel-digest-bot/prompt"
)

// ErrNoSession is returned when the fetch session is not signed in yet.
var ErrNoSession = errors.New("fetch session not ready")

// Fetcher collects new message snippets per channel.
type Fetcher interface {
	Fetch(ctx context.Context, channels []string) (map[string][]string, error)
}

// Summarizer turns snippets into a report. ok is false on provider failure.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, snippets []string) (string, bool)
}

// Dispatcher delivers a report to every configured recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, channelName, summary string) dispatcher.Result
	Recipients() int
}

// Prompts loads the current instruction prompt.
type Prompts interface {
	Load() (string, error)
}

// Alerter notifies administrators.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Reporter receives one channel's report during a manual run.
type Reporter func(ctx context.Context, channelName, summary string)

// Runner orchestrates the digest workflow. Runs never overlap.
type Runner struct {
	Fetcher     Fetcher
	Summarizer  Summarizer
	Dispatcher  Dispatcher
	Checkpoints *checkpoint.Book
	Store       checkpoint.Store
	Prompts     Prompts
	Alerter     Alerter
	// Channels returns the configured channel list at run time.
	Channels func() []string
	// SessionReady reports whether the fetch side can run. Nil means always.
	SessionReady func(ctx context.Context) (bool, error)
	Now          func() time.Time
	Logger       *slog.Logger

	mu sync.Mutex
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes the scheduled pipeline for channels: reports are pushed to
// every recipient, empty channels and failed summaries are not pushed.
func (r *Runner) Run(ctx context.Context, channels []string) (model.Stats, error) {
	if r.SessionReady != nil {
		ready, err := r.SessionReady(ctx)
		if err != nil {
			return model.Stats{}, fmt.Errorf("check session: %w", err)
		}
		if !ready {
			r.logger().Warn("job_skipped_no_session")
			return model.Stats{}, ErrNoSession
		}
	}
	return r.run(ctx, channels, nil)
}

// RunManual summarizes channels and hands every report, including empty ones,
// to report instead of pushing it.
func (r *Runner) RunManual(ctx context.Context, channels []string, report Reporter) (model.Stats, error) {
	if report == nil {
		return model.Stats{}, errors.New("manual run needs a reporter")
	}
	return r.run(ctx, channels, report)
}

func (r *Runner) run(ctx context.Context, channels []string, report Reporter) (model.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.logger()
	start := r.now().UTC()
	mode := "scheduled"
	if report != nil {
		mode = "manual"
	}
	logger.Info("job_start", slog.String("mode", mode), slog.Int("channels", len(channels)), slog.Time("time", start))

	var stats model.Stats
	if len(channels) == 0 {
		logger.Info("job_no_channels")
		return stats, nil
	}

	instruction := prompt.DefaultPrompt
	if r.Prompts != nil {
		loaded, err := r.Prompts.Load()
		if err != nil {
			logger.Warn("job_prompt_load_failed", slog.String("error", err.Error()))
		} else {
			instruction = loaded
		}
	}

	batches, err := r.Fetcher.Fetch(ctx, channels)
	if err != nil {
		return stats, fmt.Errorf("fetch channels: %w", err)
	}
	for _, name := range channels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		snippets := batches[name]
		display := channel.Normalize(name)
		stats.Channels++
		stats.Messages += len(snippets)

		if report != nil {
			summary, _ := r.Summarizer.Summarize(ctx, instruction, snippets)
			report(ctx, display, summary)
			continue
		}

		if len(snippets) == 0 {
			stats.Empty++
			logger.Info("job_channel_empty", slog.String("channel", name))
			continue
		}
		summary, ok := r.Summarizer.Summarize(ctx, instruction, snippets)
		if !ok {
			stats.Fail += r.Dispatcher.Recipients()
			logger.Warn("job_summary_failed", slog.String("channel", name))
			continue
		}
		res := r.Dispatcher.Dispatch(ctx, display, summary)
		stats.Add(res.Success, res.Fail)
	}

	r.Checkpoints.Advance(channels, start)
	if err := r.Store.Save(ctx, r.Checkpoints.Snapshot()); err != nil {
		return stats, fmt.Errorf("save checkpoints: %w", err)
	}

	logger.Info("job_complete",
		slog.String("mode", mode),
		slog.Int("channels", stats.Channels),
		slog.Int("empty", stats.Empty),
		slog.Int("messages", stats.Messages),
		slog.Int("success", stats.Success),
		slog.Int("fail", stats.Fail),
		slog.Duration("elapsed", r.now().Sub(start)),
	)
	return stats, nil
}

// Scheduled runs the pipeline for all configured channels. Errors and panics
// are logged and reported to administrators; it never panics.
func (r *Runner) Scheduled(ctx context.Context) {
	start := r.now().UTC()
	var stats model.Stats
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		var channels []string
		if r.Channels != nil {
			channels = r.Channels()
		}
		stats, err = r.Run(ctx, channels)
	}()
	if err == nil || errors.Is(err, ErrNoSession) {
		return
	}

	end := r.now().UTC()
	r.logger().Error("job_failed",
		slog.String("error", err.Error()),
		slog.Time("start", start),
		slog.Duration("elapsed", end.Sub(start)),
		slog.String("stats", stats.String()),
	)
	if r.Alerter == nil {
		return
	}
	if alertErr := r.Alerter.Alert(ctx, AlertText("自动总结定时任务", err, start, end, stats)); alertErr != nil {
		r.logger().Warn("job_alert_failed", slog.String("error", alertErr.Error()))
	}
}

// ClearCheckpoints forgets every channel's checkpoint and persists the empty mapping.
func (r *Runner) ClearCheckpoints(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Checkpoints.Clear()
	return r.Store.Save(ctx, r.Checkpoints.Snapshot())
}

// CheckpointCount returns the number of channels with a checkpoint.
func (r *Runner) CheckpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Checkpoints.Len()
}

const maxAlertError = 500

// AlertText renders an administrator alert for a failed task.
func AlertText(task string, err error, start, end time.Time, stats model.Stats) string {
	const layout = "2006-01-02 15:04:05 UTC"
	msg := err.Error()
	if runes := []rune(msg); len(runes) > maxAlertError {
		msg = string(runes[:maxAlertError]) + "..."
	}

	var b strings.Builder
	b.WriteString("🚨 告警通知\n\n")
	fmt.Fprintf(&b, "任务名称: %s\n", task)
	fmt.Fprintf(&b, "发生时间: %s\n", end.UTC().Format(layout))
	fmt.Fprintf(&b, "错误摘要: %s\n", msg)
	b.WriteString("\n详细信息:\n")
	fmt.Fprintf(&b, "- 开始时间: %s\n", start.UTC().Format(layout))
	fmt.Fprintf(&b, "- 结束时间: %s\n", end.UTC().Format(layout))
	fmt.Fprintf(&b, "- 处理时间: %.2f秒\n", end.Sub(start).Seconds())
	fmt.Fprintf(&b, "- 处理频道数: %d\n", stats.Channels)
	fmt.Fprintf(&b, "- 无消息频道数: %d\n", stats.Empty)
	fmt.Fprintf(&b, "- 推送成功: %d\n", stats.Success)
	fmt.Fprintf(&b, "- 推送失败: %d\n", stats.Fail)
	b.WriteString("\n请检查日志获取详细信息")
	return b.String()
}
