package bot

import (
	"context"
	"fmt"
	"strings"

	"custodian/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const helpText = `Available commands:
/balance - show balance and points
/deposit <usd> - create a deposit intent
/withdraw <usd> <address> - withdraw to an address
/exchange <points> - convert points to balance
/history - last transactions`

// Bot drives the Telegram command interface over the same services the HTTP
// API uses. User identity is the Telegram sender ID.
type Bot struct {
	api             *tgbotapi.BotAPI
	accountService  *service.AccountService
	depositService  *service.DepositService
	withdrawService *service.WithdrawService
	logger          *zap.Logger
}

func New(api *tgbotapi.BotAPI, accounts *service.AccountService, deposits *service.DepositService, withdrawals *service.WithdrawService, logger *zap.Logger) *Bot {
	return &Bot{
		api:             api,
		accountService:  accounts,
		depositService:  deposits,
		withdrawService: withdrawals,
		logger:          logger.Named("bot"),
	}
}

// Start consumes updates until the context is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			if update.Message.IsCommand() {
				b.handleCommand(ctx, update.Message)
				continue
			}
			b.reply(update.Message.Chat.ID, "Use /help for the command list")
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "balance":
		b.handleBalance(ctx, chatID, userID)
	case "deposit":
		b.handleDeposit(ctx, chatID, userID, msg.CommandArguments())
	case "withdraw":
		b.handleWithdraw(ctx, chatID, userID, msg.CommandArguments())
	case "exchange":
		b.handleExchange(ctx, chatID, userID, msg.CommandArguments())
	case "history":
		b.handleHistory(ctx, chatID, userID)
	default:
		b.reply(chatID, "Unknown command, use /help")
	}
}

func (b *Bot) handleBalance(ctx context.Context, chatID, userID int64) {
	account, err := b.accountService.GetAccount(ctx, userID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Balance: $%s\nPoints: %d", account.Balance.StringFixed(2), account.Points))
}

func (b *Bot) handleDeposit(ctx context.Context, chatID, userID int64, args string) {
	amount, err := decimal.NewFromString(strings.TrimSpace(args))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		b.reply(chatID, "Usage: /deposit <usd>")
		return
	}

	intent, err := b.depositService.CreateIntent(ctx, userID, amount)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf(
		"Deposit %s created.\nSend exactly %s to the custody wallet before %s.\nThe amount is your receipt, send it precisely.",
		intent.IntentID,
		intent.ExpectedAsset.String(),
		intent.ExpiresAt.UTC().Format("15:04 MST"),
	))
}

func (b *Bot) handleWithdraw(ctx context.Context, chatID, userID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(chatID, "Usage: /withdraw <usd> <address>")
		return
	}
	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		b.reply(chatID, "Usage: /withdraw <usd> <address>")
		return
	}

	result, err := b.withdrawService.Withdraw(ctx, userID, amount, fields[1])
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	status := "submitted, confirmation pending"
	if result.Confirmed {
		status = "confirmed"
	}
	b.reply(chatID, fmt.Sprintf(
		"Withdrawal %s %s.\nAmount: $%s (fee $%s)\nTx: %s",
		result.WithdrawalNo, status,
		result.AmountUSD.StringFixed(2), result.FeeUSD.StringFixed(2),
		result.TxRef,
	))
}

func (b *Bot) handleExchange(ctx context.Context, chatID, userID int64, args string) {
	var points int64
	if _, err := fmt.Sscanf(strings.TrimSpace(args), "%d", &points); err != nil || points <= 0 {
		b.reply(chatID, "Usage: /exchange <points>")
		return
	}

	credited, err := b.accountService.ExchangePoints(ctx, userID, points)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Exchanged %d points for $%s", points, credited.StringFixed(2)))
}

func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	transactions, err := b.accountService.ListTransactions(ctx, userID, 10)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(transactions) == 0 {
		b.reply(chatID, "No transactions yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent transactions:\n")
	for _, t := range transactions {
		sb.WriteString(fmt.Sprintf("%s  %s  $%s\n",
			t.CreatedAt.UTC().Format("01-02 15:04"), t.Type, t.Amount.StringFixed(2)))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) replyError(chatID int64, err error) {
	if moneyErr, ok := service.AsMoneyError(err); ok {
		b.reply(chatID, "Error: "+moneyErr.Message)
		return
	}
	b.logger.Error("command failed", zap.Error(err))
	b.reply(chatID, "Something went wrong, try again later")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send message failed", zap.Error(err))
	}
}
