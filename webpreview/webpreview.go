// Package webpreview reads public channels from their t.me/s web preview.
// It needs no user session but only sees channels with the preview enabled.
package webpreview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"channel-digest-bot/model"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

const (
	defaultBaseURL     = "https://t.me"
	defaultMaxPages    = 20
	defaultMaxMessages = 500
)

// Source scrapes the preview pages of public channels.
type Source struct {
	baseURL     string
	httpClient  *http.Client
	MaxPages    int
	MaxMessages int
	Logger      *slog.Logger
}

// NewSource creates a preview source.
func NewSource(httpClient *http.Client) *Source {
	return NewSourceWithBaseURL(httpClient, defaultBaseURL)
}

// NewSourceWithBaseURL allows overriding the base URL (useful for tests).
func NewSourceWithBaseURL(httpClient *http.Client, baseURL string) *Source {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Source{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// History returns the posts newer than since, oldest first.
func (s *Source) History(ctx context.Context, channel string, since time.Time) ([]model.Message, error) {
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	maxMessages := s.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}

	var out []model.Message
	before := 0
	for page := 0; page < maxPages && len(out) < maxMessages; page++ {
		body, err := s.page(ctx, channel, before)
		if err != nil {
			return nil, err
		}
		posts, err := Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", channel, err)
		}
		if len(posts) == 0 {
			break
		}
		// Pages list posts oldest first; walk them newest first.
		reached := false
		for i := len(posts) - 1; i >= 0; i-- {
			if !posts[i].Date.After(since) {
				reached = true
				break
			}
			out = append(out, posts[i])
		}
		oldest := posts[0].ID
		if reached || oldest <= 1 || (before != 0 && oldest >= before) {
			break
		}
		before = oldest
	}

	if len(out) > maxMessages {
		out = out[:maxMessages]
	}
	slices.Reverse(out)
	s.logger().Debug("webpreview_history", slog.String("channel", channel), slog.Int("messages", len(out)))
	return out, nil
}

func (s *Source) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Source) page(ctx context.Context, channel string, before int) ([]byte, error) {
	u := fmt.Sprintf("%s/s/%s", s.baseURL, url.PathEscape(channel))
	if before > 0 {
		u += "?before=" + strconv.Itoa(before)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s status: %d", channel, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", channel, err)
	}
	return body, nil
}

// Parse extracts the posts of one preview page in page order. Posts without
// a readable id or date are skipped.
func Parse(r io.Reader) ([]model.Message, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var posts []model.Message
	for _, node := range dom.QuerySelectorAll(doc, "div.tgme_widget_message[data-post]") {
		id, ok := postID(dom.GetAttribute(node, "data-post"))
		if !ok {
			continue
		}
		timeNode := dom.QuerySelector(node, "time[datetime]")
		if timeNode == nil {
			continue
		}
		date, err := time.Parse(time.RFC3339, dom.GetAttribute(timeNode, "datetime"))
		if err != nil {
			continue
		}
		var text string
		if textNode := dom.QuerySelector(node, ".tgme_widget_message_text"); textNode != nil {
			text = messageText(textNode)
		}
		posts = append(posts, model.Message{ID: id, Text: text, Date: date.UTC()})
	}
	return posts, nil
}

// postID reads the numeric part of a "channel/123" data-post value.
func postID(v string) (int, bool) {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(v[i+1:])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func messageText(node *html.Node) string {
	for _, br := range dom.GetElementsByTagName(node, "br") {
		if br.Parent == nil {
			continue
		}
		br.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: "\n"}, br)
		br.Parent.RemoveChild(br)
	}
	return strings.TrimSpace(dom.TextContent(node))
}
