package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	defaultTimeout   = 5 * time.Second
	defaultParseMode = "HTML"
)

// Config holds the process-wide bot and pacing.
type Config struct {
	BotToken  string        `yaml:"botToken"`
	ChatID    string        `yaml:"chatId"`
	BaseURL   string        `yaml:"baseUrl"`
	ParseMode string        `yaml:"parseMode"`
	Timeout   time.Duration `yaml:"timeout"`
	// PerSecond caps outgoing messages; Telegram throttles bursts per chat.
	PerSecond float64 `yaml:"perSecond"`
}

// Notifier sends messages to Telegram chats via the bot API.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers the default bot and builds the HTTP client.
func NewNotifier(cfg Config) *Notifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = defaultParseMode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

// Send posts message to the target chat and returns Telegram's message id.
// A message Telegram cannot parse as markup is resent once as plain text.
func (n *Notifier) Send(ctx context.Context, target domain.TelegramTarget, message string) (string, error) {
	token, chatID := n.resolve(target)
	if token == "" || chatID == "" {
		return "", domain.NewError(domain.KindConfig, "telegram bot token or chat id missing", nil)
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	id, err := n.sendMessage(ctx, token, chatID, message, n.cfg.ParseMode)
	if err != nil && n.cfg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		id, err = n.sendMessage(ctx, token, chatID, message, "")
	}
	return id, err
}

func (n *Notifier) sendMessage(ctx context.Context, token, chatID, text, parseMode string) (string, error) {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	if parseMode != "" {
		form.Set("parse_mode", parseMode)
	}

	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := n.call(ctx, token, "sendMessage", form, &result); err != nil {
		return "", err
	}
	return strconv.FormatInt(result.MessageID, 10), nil
}

// TestConnection calls getMe and returns the bot username.
func (n *Notifier) TestConnection(ctx context.Context, botToken string) (string, error) {
	if botToken == "" {
		botToken = n.cfg.BotToken
	}
	if botToken == "" {
		return "", domain.NewError(domain.KindConfig, "telegram bot token missing", nil)
	}

	var me struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	}
	if err := n.call(ctx, botToken, "getMe", nil, &me); err != nil {
		return "", err
	}
	if me.Username != "" {
		return "@" + me.Username, nil
	}
	return me.FirstName, nil
}

func (n *Notifier) call(ctx context.Context, token, method string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(n.cfg.BaseURL, "/"), token, method)

	var (
		req *http.Request
		err error
	)
	if form == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	}
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.NewError(domain.KindDelivery, "telegram "+method, redact(err, token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.NewError(domain.KindDelivery, fmt.Sprintf("telegram %s: %s", method, resp.Status), err)
	}
	if !parsed.OK || resp.StatusCode != http.StatusOK {
		return domain.NewError(domain.KindDelivery,
			fmt.Sprintf("telegram %s error %d: %s", method, parsed.ErrorCode, parsed.Description), nil)
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (n *Notifier) resolve(target domain.TelegramTarget) (string, string) {
	token := target.BotToken
	if token == "" {
		token = n.cfg.BotToken
	}
	chatID := target.ChatID
	if chatID == "" {
		chatID = n.cfg.ChatID
	}
	return token, chatID
}

// redact keeps the bot token out of logged URLs.
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
