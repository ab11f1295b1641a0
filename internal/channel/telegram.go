package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"maxrelay/internal/domain"
	"maxrelay/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen     = 4096
	telegramMaxCaptionLen = 1024
	telegramPollTimeout   = 30
	telegramHTTPTimeout   = 120 * time.Second
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token       string
	APIEndpoint string       // format string with two %s (token, method); default tgbotapi.APIEndpoint
	Client      *http.Client // default has a 120s timeout to cover uploads
	Logger      *slog.Logger

	// SendsPerMinute paces Bot API sends; 0 disables pacing. SendBurst is
	// the bucket size.
	SendsPerMinute float64
	SendBurst      int
}

// Telegram delivers relayed messages through the Bot API and drains the
// bot's own inbound updates without acting on them.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
	pacer  *sendPacer
}

// NewTelegram authenticates the bot with getMe.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: telegramHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	_ = tgbotapi.SetLogger(botLogger{cfg.Logger})

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t := &Telegram{bot: bot, logger: cfg.Logger}
	if cfg.SendsPerMinute > 0 {
		t.pacer = newSendPacer(cfg.SendsPerMinute, cfg.SendBurst)
	}
	return t, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Username is the bot's @handle as reported by getMe.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

var _ domain.Sink = (*Telegram)(nil)

// SendText sends body, split into 4096-character chunks when needed.
func (t *Telegram) SendText(ctx context.Context, to domain.Recipient, body string) error {
	for _, chunk := range splitText(body, telegramMaxMsgLen) {
		if err := t.send(ctx, "sendMessage", tgbotapi.NewMessage(int64(to), chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) SendPhoto(ctx context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	msg := tgbotapi.NewPhoto(int64(to), tgbotapi.FileBytes{Name: p.Filename, Bytes: p.Bytes})
	msg.Caption = truncateCaption(caption)
	return t.send(ctx, "sendPhoto", msg)
}

func (t *Telegram) SendVideo(ctx context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	msg := tgbotapi.NewVideo(int64(to), tgbotapi.FileBytes{Name: p.Filename, Bytes: p.Bytes})
	msg.Caption = truncateCaption(caption)
	msg.SupportsStreaming = true
	return t.send(ctx, "sendVideo", msg)
}

func (t *Telegram) SendDocument(ctx context.Context, to domain.Recipient, p domain.Payload, caption string) error {
	msg := tgbotapi.NewDocument(int64(to), tgbotapi.FileBytes{Name: p.Filename, Bytes: p.Bytes})
	msg.Caption = truncateCaption(caption)
	return t.send(ctx, "sendDocument", msg)
}

// send performs one Bot API call. tgbotapi has no context support, so a
// cancelled ctx is only checked before the call starts.
func (t *Telegram) send(ctx context.Context, method string, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return &domain.DeliveryError{Op: method, Err: err}
	}
	if t.pacer != nil {
		if err := t.pacer.wait(ctx, method); err != nil {
			return err
		}
	}
	start := time.Now()
	if _, err := t.bot.Send(c); err != nil {
		metrics.Deliveries(method, "error").Inc()
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			t.logger.Warn("telegram rate limited", "method", method, "retry_after", apiErr.RetryAfter)
			if t.pacer != nil {
				t.pacer.hold(time.Duration(apiErr.RetryAfter) * time.Second)
			}
		}
		return &domain.DeliveryError{Op: method, Err: err}
	}
	metrics.Deliveries(method, "ok").Inc()
	t.logger.Debug("telegram delivered", "method", method, "took", time.Since(start))
	return nil
}

// Listen long-polls the bot's updates until ctx is cancelled. The relay is
// one-way, so every update is discarded.
func (t *Telegram) Listen(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			// StopReceivingUpdates panics when called twice; this is the only caller.
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.discard(update)
		}
	}
}

func (t *Telegram) discard(update tgbotapi.Update) {
	metrics.TelegramIgnored.Inc()
	if chat := update.FromChat(); chat != nil {
		t.logger.Debug("ignoring telegram update", "update_id", update.UpdateID, "chat_id", chat.ID)
		return
	}
	t.logger.Debug("ignoring telegram update", "update_id", update.UpdateID)
}

// splitText cuts s into chunks of at most max bytes, preferring newline
// boundaries and never splitting a UTF-8 sequence.
func splitText(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var chunks []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], "\n")
		if cut < max/2 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				// No rune start in reach: s is not valid UTF-8 here.
				cut = max
			}
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func truncateCaption(s string) string {
	if utf8.RuneCountInString(s) <= telegramMaxCaptionLen {
		return s
	}
	r := []rune(s)
	return string(r[:telegramMaxCaptionLen-1]) + "…"
}

// botLogger routes tgbotapi's internal logging into slog.
type botLogger struct{ l *slog.Logger }

func (b botLogger) Println(v ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintln(v...)), "component", "tgbotapi")
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, v...), "component", "tgbotapi")
}
