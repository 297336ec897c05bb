package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alertcpl/internal/logging"
)

// Notifier delivers a rendered message to a destination chat. One attempt per call.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string) error
}

// SendError describes a failed delivery.
type SendError struct {
	StatusCode  int
	Description string
	Err         error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram send failed: %v", e.Err)
	}
	if e.Description != "" {
		return fmt.Sprintf("telegram send failed (%d): %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("telegram send failed (%d)", e.StatusCode)
}

func (e *SendError) Unwrap() error { return e.Err }

// Malformed reports a rejected payload, such as unparseable markup or an unknown chat.
func (e *SendError) Malformed() bool {
	return e.Err == nil && e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Unreachable reports a network failure or a server-side error.
func (e *SendError) Unreachable() bool {
	return e.Err != nil || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	dialect  Dialect
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, dialect Dialect, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		dialect:  dialect,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Dialect is the markup dialect messages for this notifier must be rendered in.
func (n *TelegramNotifier) Dialect() Dialect {
	return n.dialect
}

// Notify calls sendMessage once.
func (n *TelegramNotifier) Notify(ctx context.Context, chatID, text string) error {
	payload := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode(n.dialect),
		DisableWebPagePreview: true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var result sendMessageResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{StatusCode: resp.StatusCode, Description: result.Description}
	}
	if decodeErr == nil && !result.OK {
		code := result.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &SendError{StatusCode: code, Description: result.Description}
	}

	n.logger.Debug().Str("chat_id", chatID).Msg("telegram message sent")
	return nil
}

func parseMode(d Dialect) string {
	switch d {
	case DialectHTML:
		return "HTML"
	case DialectMarkdownV2:
		return "MarkdownV2"
	default:
		return ""
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

var _ Notifier = (*TelegramNotifier)(nil)
