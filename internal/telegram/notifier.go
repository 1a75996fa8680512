package telegram

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/scheduler"
)

// BotAPI is the part of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier sends every outbound Telegram call through one rate limiter so
// reminder bursts stay under the Bot API flood limits.
type Notifier struct {
	bot         BotAPI
	limiter     *rate.Limiter
	log         *zap.Logger
	remindLimit int
	remindDelay time.Duration
	newBackOff  func() backoff.BackOff
}

// sendAttempts bounds delivery of one Bot API call, first try included.
const sendAttempts = 3

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, sendAttempts-1)
}

var _ scheduler.Sender = (*Notifier)(nil)

func NewNotifier(bot BotAPI, limiter *rate.Limiter, log *zap.Logger, remindLimit int, remindDelay time.Duration) *Notifier {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Notifier{
		bot:         bot,
		limiter:     limiter,
		log:         log,
		remindLimit: remindLimit,
		remindDelay: remindDelay,
		newBackOff:  defaultBackOff,
	}
}

// SendReminder delivers a check-in reminder with its action buttons.
func (n *Notifier) SendReminder(ctx context.Context, userID int64, slot domain.Slot, date domain.Date, remindCount int) error {
	msg := tgbotapi.NewMessage(userID, reminderText(slot, remindCount, n.remindLimit))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = reminderKeyboard(slot, date, remindCount, n.remindLimit, n.remindDelay)
	return n.send(ctx, msg)
}

func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	return n.retry(ctx, func() error {
		_, err := n.bot.Send(c)
		return err
	})
}

func (n *Notifier) request(ctx context.Context, c tgbotapi.Chattable) error {
	return n.retry(ctx, func() error {
		_, err := n.bot.Request(c)
		return err
	})
}

// retry runs call through the limiter, retrying transient Bot API failures.
// Client errors such as a chat that blocked the bot are returned at once.
func (n *Notifier) retry(ctx context.Context, call func() error) error {
	op := func() error {
		if err := n.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := call()
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			return err
		}
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			if d := time.Duration(apiErr.RetryAfter) * time.Second; d > 0 {
				t := time.NewTimer(d)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-t.C:
				}
			}
			return err
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, backoff.WithContext(n.newBackOff(), ctx), func(err error, next time.Duration) {
		n.log.Debug("telegram call failed, retrying", zap.Duration("backoff", next), zap.Error(err))
	})
}

func (n *Notifier) sendText(ctx context.Context, chatID int64, text string) {
	if err := n.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		n.log.Warn("send message failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}
