package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const defaultTelegramURL = "https://api.telegram.org"

var ErrTelegramConfig = errors.New("telegram bot token and chat id are required")

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string // defaults to the public Bot API
}

type telegramError struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Telegram posts events to a chat through a bot.
type Telegram struct {
	cfg    TelegramConfig
	client *req.Client
}

// NewTelegram creates the channel. Token and chat id are required.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, ErrTelegramConfig
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second)
	return &Telegram{cfg: cfg, client: client}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	var apiErr telegramError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    t.cfg.ChatID,
			"text":       telegramText(ev),
			"parse_mode": "Markdown",
		}).
		SetErrorResult(&apiErr).
		Post("/bot" + t.cfg.BotToken + "/sendMessage")
	if err != nil {
		return t.requestError(err)
	}
	if resp.IsErrorState() {
		if apiErr.Description != "" {
			return fmt.Errorf("telegram: %d %s", apiErr.ErrorCode, apiErr.Description)
		}
		return fmt.Errorf("telegram: %s", resp.Status)
	}
	return nil
}

// requestError drops the request URL, which carries the bot token, from
// transport failures.
func (t *Telegram) requestError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	msg := strings.ReplaceAll(err.Error(), t.cfg.BotToken, "*****")
	return fmt.Errorf("telegram request: %s", msg)
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
	"&", "and",
)

// telegramText renders ev as Markdown. Subject and body are escaped so paths
// like my_file.zip do not open an entity.
func telegramText(ev Event) string {
	outcome := "❌ Failure"
	if ev.Success {
		outcome = "✅ Success"
	}
	return fmt.Sprintf("*RocketDrive*: %s\n*%s*\n%s",
		outcome, markdownEscaper.Replace(ev.Subject), markdownEscaper.Replace(ev.Body))
}
