package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

// DefaultTelegramAPI is the Bot API host
const DefaultTelegramAPI = "https://api.telegram.org"

var ErrTelegramNotConfigured = errors.New("telegram bot token and chat id are required")

// TelegramReporter sends run reports to an admin chat through the Bot API
type TelegramReporter struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// TelegramOption configures a TelegramReporter
type TelegramOption func(*TelegramReporter)

// WithTelegramAPI overrides the Bot API host
func WithTelegramAPI(baseURL string) TelegramOption {
	return func(t *TelegramReporter) { t.baseURL = baseURL }
}

// WithTelegramClient replaces the HTTP client
func WithTelegramClient(c *http.Client) TelegramOption {
	return func(t *TelegramReporter) { t.client = c }
}

// NewTelegramReporter creates a reporter for chatID
func NewTelegramReporter(token, chatID string, timeout time.Duration, logger *slog.Logger, opts ...TelegramOption) (*TelegramReporter, error) {
	if token == "" || chatID == "" {
		return nil, ErrTelegramNotConfigured
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := &TelegramReporter{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultTelegramAPI,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.Component(logger, "telegram"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *TelegramReporter) ReportRun(ctx context.Context, stats *types.ExtractionRunStats) error {
	return t.send(ctx, FormatRun(stats))
}

func (t *TelegramReporter) ReportFailure(ctx context.Context, number string, err error) error {
	return t.send(ctx, FormatFailure(number, err))
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramReporter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("telegram sendMessage: read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil || !result.OK {
		desc := result.Description
		if desc == "" {
			desc = string(raw)
		}
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, desc)
	}

	t.logger.Debug("admin notified", "chat_id", t.chatID, "length", len(text))
	return nil
}
