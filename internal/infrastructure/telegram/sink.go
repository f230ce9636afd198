package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

const (
	// SinkName identifies the Telegram sink in delivery records.
	SinkName = "telegram"

	// maxMessageLength is Telegram's hard per-message limit.
	maxMessageLength = 4096
)

// Bot is the narrow slice of the bot API the sink needs; it exists so
// tests can substitute a fake.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

type apiBot struct {
	bot *tgbotapi.BotAPI
}

func (b *apiBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return b.bot.Send(c)
}

func (b *apiBot) GetMe() (tgbotapi.User, error) {
	return b.bot.Self, nil
}

// Sink forwards accepted items to a Telegram chat.
type Sink struct {
	bot    Bot
	chatID int64
	logger *slog.Logger
}

var _ ports.Notifiable = (*Sink)(nil)

// NewSink authorizes against the bot API.
func NewSink(token string, chatID int64, logger *slog.Logger) (*Sink, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewSinkWithBot(&apiBot{bot: bot}, chatID, logger), nil
}

// NewSinkWithBot wires a prebuilt bot (used by tests).
func NewSinkWithBot(bot Bot, chatID int64, logger *slog.Logger) *Sink {
	return &Sink{bot: bot, chatID: chatID, logger: logger}
}

// Name identifies the sink in delivery flags.
func (s *Sink) Name() string {
	return SinkName
}

// Deliver posts the item as one or more Markdown messages. When Telegram
// rejects the Markdown, the chunk is resent as plain text before the error
// is surfaced.
func (s *Sink) Deliver(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight) error {
	for _, chunk := range SplitMessage(FormatItem(item, insight), maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendChunk(chunk); err != nil {
			return &domain.DeliveryError{
				Sink:      SinkName,
				Identity:  item.Identity,
				Retryable: retryable(err),
				Err:       err,
			}
		}
	}
	return nil
}

// Probe verifies the bot token and chat are usable.
func (s *Sink) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	me, err := s.bot.GetMe()
	if err != nil {
		return fmt.Errorf("telegram auth check: %w", err)
	}
	s.debug("telegram bot authorized", "username", me.UserName)

	return s.sendChunk("Connection test successful. Bot is ready.")
}

func (s *Sink) sendChunk(text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	_, err := s.bot.Send(msg)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse") {
		s.debug("markdown rejected, resending as plain text")
		plain := tgbotapi.NewMessage(s.chatID, text)
		plain.DisableWebPagePreview = true
		_, err = s.bot.Send(plain)
	}
	return err
}

// FormatItem renders one delivered item as a Telegram Markdown message.
func FormatItem(item domain.CanonicalItem, insight domain.ExtractedInsight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", item.Title)
	fmt.Fprintf(&b, "_source: %s_\n\n", item.SourceName)

	if insight.Failed {
		b.WriteString("(summary unavailable)\n")
	} else if insight.Summary != "" {
		b.WriteString(insight.Summary)
		b.WriteString("\n")
	}

	if len(insight.Keywords) > 0 {
		fmt.Fprintf(&b, "\nKeywords: %s\n", strings.Join(insight.Keywords, ", "))
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "\n%s", item.URL)
	}
	return b.String()
}

// SplitMessage cuts a long message into chunks within the size limit,
// preferring line boundaries so content is not broken mid-entry.
func SplitMessage(message string, limit int) []string {
	if len(message) <= limit {
		return []string{message}
	}

	var chunks []string
	var current strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			for len(line) > limit {
				chunks = append(chunks, line[:limit])
				line = line[limit:]
			}
			if line != "" {
				current.WriteString(line)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(line)+1 > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// retryable classifies bot API failures: rate limits and server-side
// errors are transient, bad tokens or chats are not.
func retryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return true
		}
		return false
	}
	// Transport-level failures (timeouts, connection resets).
	return true
}

func (s *Sink) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
