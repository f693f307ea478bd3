// Package mtproto reads channel history and performs interactive sign-in
// through a Telegram user session.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"channel-digest-bot/fetcher"
	"channel-digest-bot/login"
	"channel-digest-bot/model"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const (
	defaultPageSize    = 100
	defaultMaxMessages = 500
	closeTimeout       = 5 * time.Second
)

// ErrChannelNotFound is returned when a username does not resolve to a channel.
var ErrChannelNotFound = errors.New("channel not found")

// Client opens short-lived MTProto connections backed by a session file.
type Client struct {
	AppID       int
	AppHash     string
	SessionPath string
	PageSize    int
	MaxMessages int
	Logger      *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) newClient() *telegram.Client {
	return telegram.NewClient(c.AppID, c.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.SessionPath},
		NoUpdates:      true,
	})
}

// SessionExists reports whether a session file is present.
func (c *Client) SessionExists() bool {
	_, err := os.Stat(c.SessionPath)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// Authorized reports whether the stored session is signed in.
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	if !c.SessionExists() {
		return false, nil
	}
	var authorized bool
	client := c.newClient()
	err := client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		authorized = status.Authorized
		return nil
	})
	if err != nil {
		return false, err
	}
	return authorized, nil
}

// History returns the messages of a public channel posted after since,
// oldest first. At most MaxMessages of the newest messages are kept.
func (c *Client) History(ctx context.Context, channel string, since time.Time) ([]model.Message, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxMessages := c.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}

	var out []model.Message
	client := c.newClient()
	err := client.Run(ctx, func(ctx context.Context) error {
		api := client.API()
		resolved, err := api.ContactsResolveUsername(ctx, channel)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", channel, err)
		}
		peer, err := inputPeer(resolved)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", channel, err)
		}

		offsetID := 0
		for len(out) < maxMessages {
			res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer,
				OffsetID: offsetID,
				Limit:    pageSize,
			})
			if err != nil {
				return fmt.Errorf("get history %s: %w", channel, err)
			}
			page, done := collect(pageMessages(res), since)
			out = append(out, page.messages...)
			if done || page.minID == 0 {
				break
			}
			offsetID = page.minID
		}
		return nil
	})
	if err != nil {
		return nil, historyError(err)
	}

	if len(out) > maxMessages {
		out = out[:maxMessages]
	}
	slices.Reverse(out)
	c.logger().Debug("mtproto_history", slog.String("channel", channel), slog.Int("messages", len(out)))
	return out, nil
}

// historyError marks unauthorized RPC errors as a rejected session.
func historyError(err error) error {
	if tgerr.IsCode(err, 401) {
		return fmt.Errorf("%w: %w", fetcher.ErrSessionRejected, err)
	}
	return err
}

type page struct {
	messages []model.Message
	minID    int
}

// collect keeps messages newer than since from one newest-first page. done is
// true once the page reaches since or is the last page.
func collect(msgs []tg.MessageClass, since time.Time) (page, bool) {
	var p page
	if len(msgs) == 0 {
		return p, true
	}
	for _, mc := range msgs {
		id := mc.GetID()
		if p.minID == 0 || id < p.minID {
			p.minID = id
		}
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		date := time.Unix(int64(msg.Date), 0).UTC()
		if !date.After(since) {
			return p, true
		}
		p.messages = append(p.messages, model.Message{ID: msg.ID, Text: msg.Message, Date: date})
	}
	return p, false
}

func pageMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesMessages:
		return v.Messages
	default:
		return nil
	}
}

func inputPeer(resolved *tg.ContactsResolvedPeer) (tg.InputPeerClass, error) {
	want, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, ErrChannelNotFound
	}
	for _, chat := range resolved.Chats {
		ch, ok := chat.(*tg.Channel)
		if ok && ch.ID == want.ChannelID {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, ErrChannelNotFound
}

// Dial opens a connection that stays up across several login steps.
func (c *Client) Dial(ctx context.Context) (login.Authenticator, error) {
	client := c.newClient()
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		return &LoginConn{client: client, cancel: cancel, done: done, logger: c.logger()}, nil
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("connection closed")
		}
		return nil, fmt.Errorf("connect telegram: %w", err)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// LoginConn implements login.Authenticator over a live connection.
type LoginConn struct {
	client *telegram.Client
	cancel context.CancelFunc
	done   chan error
	logger *slog.Logger
}

func (l *LoginConn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := l.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", fmt.Errorf("send code: %w", err)
	}
	return codeHash(sent)
}

func (l *LoginConn) SignIn(ctx context.Context, phone, hash, code string) error {
	_, err := l.client.Auth().SignIn(ctx, phone, code, hash)
	return signInError(err)
}

func (l *LoginConn) Password(ctx context.Context, password string) error {
	if _, err := l.client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("check password: %w", err)
	}
	return nil
}

// Close disconnects and waits briefly for the connection to shut down.
func (l *LoginConn) Close() error {
	l.cancel()
	select {
	case err := <-l.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(closeTimeout):
		l.logger.Warn("mtproto_close_timeout")
		return nil
	}
}

func codeHash(sent tg.AuthSentCodeClass) (string, error) {
	if s, ok := sent.(*tg.AuthSentCode); ok {
		return s.PhoneCodeHash, nil
	}
	return "", fmt.Errorf("unexpected sent code %T", sent)
}

func signInError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return login.ErrPasswordRequired
	}
	return fmt.Errorf("sign in: %w", err)
}
