package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	pollRetryDelay  = 2 * time.Second
	pollTimeoutSecs = 30
)

// Poller long-polls getUpdates and hands updates to Handler one at a time.
type Poller struct {
	API *tgbotapi.BotAPI
	// Endpoint is a format string taking the token and the method name.
	// Empty means tgbotapi.APIEndpoint.
	Endpoint   string
	RetryDelay time.Duration
	Logger     *slog.Logger
	Handler    func(ctx context.Context, update Update)
}

// Run polls until ctx is canceled. An in-flight long poll is aborted with ctx,
// and Run returns only after the current Handler call has returned.
func (p *Poller) Run(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := p.RetryDelay
	if retry <= 0 {
		retry = pollRetryDelay
	}

	offset := 0
	for ctx.Err() == nil {
		updates, err := p.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("poll_updates_failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(retry):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if p.Handler != nil {
				p.Handler(ctx, update)
			}
		}
	}
	logger.Info("poller_stopped", slog.Int("offset", offset))
}

func (p *Poller) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	form := url.Values{}
	form.Set("offset", strconv.Itoa(offset))
	form.Set("timeout", strconv.Itoa(pollTimeoutSecs))
	form.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(endpoint, p.API.Token, "getUpdates"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.API.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var apiResp tgbotapi.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode getUpdates (status %d): %w", resp.StatusCode, err)
	}
	if !apiResp.Ok {
		return nil, fmt.Errorf("telegram response not ok: %s", apiResp.Description)
	}
	var updates []Update
	if err := json.Unmarshal(apiResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}
