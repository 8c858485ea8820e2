package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier sends direct messages through the bot API. User ids are
// Telegram user ids, which double as private-chat ids.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramNotifier(api *tgbotapi.BotAPI, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{api: api, logger: logger}
}

func (n *TelegramNotifier) Notify(_ context.Context, userID int64, message string) error {
	msg := tgbotapi.NewMessage(userID, message)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("telegram notification failed",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return err
	}
	return nil
}
