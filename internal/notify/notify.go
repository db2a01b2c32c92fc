// Package notify delivers short text messages to a recipient.
package notify

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/lox/surfcast/internal/metrics"
)

// Notifier delivers messages to recipient. Send delivers text verbatim.
// SendVerification delivers VerificationMessage(code), which may be
// formatted.
type Notifier interface {
	Send(ctx context.Context, recipient, text string) error
	SendVerification(ctx context.Context, recipient, code string) error
}

// VerificationMessage is the text carrying a verification code.
func VerificationMessage(code string) string {
	return "Your verification code is *" + code + "*"
}

// NewVerificationCode returns a random six digit code.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Log writes messages to the logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Send(ctx context.Context, recipient, text string) error {
	l.logger.Info("notification", "recipient", recipient, "text", text)
	metrics.NotificationsSent.WithLabelValues("log", "ok").Inc()
	return nil
}

func (l *Log) SendVerification(ctx context.Context, recipient, code string) error {
	return l.Send(ctx, recipient, VerificationMessage(code))
}
