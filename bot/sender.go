package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLen is the Telegram limit for one text message, in UTF-16 code units.
const MaxMessageLen = 4096

// Sender replies to chats.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
}

// TelegramSender implements Sender and dispatcher.Sender using tgbotapi.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender creates a new sender.
func NewTelegramSender(api *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

// SendText sends a plain text message, split into several when too long.
// It returns the id of the last message sent.
func (s *TelegramSender) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	var last int
	for _, part := range Split(text, MaxMessageLen) {
		resp, err := s.api.Send(tgbotapi.NewMessage(chatID, part))
		if err != nil {
			return last, err
		}
		last = resp.MessageID
	}
	return last, nil
}

// SendTo delivers text to a numeric chat id or an @channel username.
func (s *TelegramSender) SendTo(ctx context.Context, recipient string, text string) error {
	for _, part := range Split(text, MaxMessageLen) {
		msg, err := recipientMessage(recipient, part)
		if err != nil {
			return err
		}
		if _, err := s.api.Send(msg); err != nil {
			return fmt.Errorf("send to %s: %w", recipient, err)
		}
	}
	return nil
}

func recipientMessage(recipient, text string) (tgbotapi.MessageConfig, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return tgbotapi.MessageConfig{}, errors.New("empty recipient")
	}
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text), nil
	}
	if !strings.HasPrefix(recipient, "@") {
		recipient = "@" + recipient
	}
	return tgbotapi.NewMessageToChannel(recipient, text), nil
}

// Split cuts text into parts of at most limit UTF-16 code units, preferring
// line breaks in the second half of a part.
func Split(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}
	runes := []rune(text)
	var parts []string
	for len(runes) > 0 {
		end, units, lastBreak := 0, 0, 0
		for end < len(runes) {
			n := runeUnits(runes[end])
			if units+n > limit {
				break
			}
			units += n
			end++
			if runes[end-1] == '\n' && units > limit/2 {
				lastBreak = end
			}
		}
		if end == len(runes) {
			parts = append(parts, string(runes))
			break
		}
		cut := end
		if lastBreak > 0 {
			cut = lastBreak
		}
		if cut == 0 {
			cut = 1
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	return parts
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

func utf16Len(text string) int {
	total := 0
	for _, r := range text {
		total += runeUnits(r)
	}
	return total
}

// Alerter sends administrator alerts to a fixed set of chats.
type Alerter struct {
	Sender     Sender
	Recipients []int64
	Logger     *slog.Logger
}

// Alert sends text to every recipient and joins the delivery errors.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if len(a.Recipients) == 0 {
		logger := a.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("alert_no_recipients")
		return nil
	}
	var errs []error
	for _, id := range a.Recipients {
		if _, err := a.Sender.SendText(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("alert %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
