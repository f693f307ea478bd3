package bot

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Update is the subset of a Telegram update the bot consumes.
type Update struct {
	UpdateID int               `json:"update_id"`
	Message  *tgbotapi.Message `json:"message,omitempty"`
}
