package notify

import (
	"context"
	"fmt"

	"studiobook/internal/config"
	"studiobook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of tgbotapi.BotAPI used for notices.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramSender struct {
	bot BotAPI
}

func NewTelegramSender(bot BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (s *TelegramSender) Send(ctx context.Context, user *models.User, subject, body string) error {
	if user.TelegramID == 0 {
		return ErrNoAddress
	}
	msg := tgbotapi.NewMessage(user.TelegramID, fmt.Sprintf("*%s*\n%s", tgbotapi.EscapeText(models.ParseModeMarkdown, subject),
		tgbotapi.EscapeText(models.ParseModeMarkdown, body)))
	msg.ParseMode = models.ParseModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", user.TelegramID, err)
	}
	return nil
}
