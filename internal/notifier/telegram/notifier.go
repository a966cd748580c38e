// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends one chat message per delivery.
type Notifier struct {
	bot    sender
	logger *zap.Logger
}

const defaultTimeout = 10 * time.Second

// Config locates the Bot API. Endpoint may be empty for the public API.
type Config struct {
	Token    string
	Endpoint string
	Timeout  time.Duration
}

// New authenticates against the Bot API. Every request, including sends,
// is bounded by cfg.Timeout.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	log := logging.OrNop(logger).Named("telegram")
	log.Info("telegram bot authorized",
		zap.String("username", bot.Self.UserName),
		zap.Duration("timeout", cfg.Timeout),
	)
	return &Notifier{bot: bot, logger: log}, nil
}

func newWithSender(s sender, logger *zap.Logger) *Notifier {
	return &Notifier{bot: s, logger: logging.OrNop(logger).Named("telegram")}
}

// Notify sends msg to the chat identified by subscriber.
func (n *Notifier) Notify(ctx context.Context, subscriber catalog.SubscriberID, msg catalog.Message) error {
	if err := ctx.Err(); err != nil {
		return &catalog.DeliveryError{Subscriber: subscriber, Err: err}
	}
	out := tgbotapi.NewMessage(int64(subscriber), msg.Text())

	// Send takes no context; the client timeout ends the request if the caller stops waiting.
	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(out)
		done <- err
	}()
	select {
	case <-ctx.Done():
		n.logger.Warn("send abandoned", zap.Int64("subscriber", int64(subscriber)), zap.Error(ctx.Err()))
		return &catalog.DeliveryError{Subscriber: subscriber, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &catalog.DeliveryError{Subscriber: subscriber, Permanent: isPermanent(err), Err: err}
		}
		return nil
	}
}

// isPermanent reports rejections that will not succeed on retry: blocked bot,
// deleted or unknown chat.
func isPermanent(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusBadRequest
	}
	var apiVal tgbotapi.Error
	if errors.As(err, &apiVal) {
		return apiVal.Code == http.StatusForbidden || apiVal.Code == http.StatusBadRequest
	}
	return false
}
