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

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/surfcast/internal/httputil"
	"github.com/lox/surfcast/internal/metrics"
)

const DefaultTelegramURL = "https://api.telegram.org"

var ErrRejected = errors.New("message rejected")

// Telegram sends messages through the Bot API. Recipients are chat ids.
type Telegram struct {
	baseURL    string
	token      string
	client     *http.Client
	maxElapsed time.Duration
	logger     *slog.Logger
}

type TelegramOption func(*Telegram)

func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = u }
}

func WithMaxElapsed(d time.Duration) TelegramOption {
	return func(t *Telegram) { t.maxElapsed = d }
}

func NewTelegram(token string, logger *slog.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		baseURL:    DefaultTelegramURL,
		token:      token,
		client:     httputil.NewClient(),
		maxElapsed: time.Minute,
		logger:     logger.With("component", "telegram"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send delivers text as plain text, so free text is never rejected for
// unbalanced Markdown entities.
func (t *Telegram) Send(ctx context.Context, recipient, text string) error {
	return t.send(ctx, sendMessageRequest{ChatID: recipient, Text: text})
}

// SendVerification delivers the verification message with the code in bold.
func (t *Telegram) SendVerification(ctx context.Context, recipient, code string) error {
	return t.send(ctx, sendMessageRequest{ChatID: recipient, Text: VerificationMessage(code), ParseMode: "Markdown"})
}

func (t *Telegram) send(ctx context.Context, msg sendMessageRequest) error {
	recipient := msg.ChatID
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("send message: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("send message: status %d", resp.StatusCode)
		}

		var ar apiResponse
		if err := json.Unmarshal(body, &ar); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if !ar.OK {
			return backoff.Permanent(fmt.Errorf("%w: %d %s", ErrRejected, ar.ErrorCode, ar.Description))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = t.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
		t.logger.Warn("notification failed", "recipient", recipient, "error", err)
		return err
	}
	metrics.NotificationsSent.WithLabelValues("telegram", "ok").Inc()
	return nil
}
