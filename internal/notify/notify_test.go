package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerificationMessage(t *testing.T) {
	assert.Equal(t, "Your verification code is *04711*", VerificationMessage("04711"))

	code, err := NewVerificationCode()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
}

func TestTelegramSend(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken123/sendMessage", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	tg := NewTelegram("token123", testLogger(), WithBaseURL(srv.URL))
	require.NoError(t, tg.SendVerification(context.Background(), "42", "123456"))
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.Equal(t, VerificationMessage("123456"), got.Text)
}

func TestTelegramSendsFreeTextPlain(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	text := "gusts_10m at *Quinten 42 km/h"
	tg := NewTelegram("t", testLogger(), WithBaseURL(srv.URL))
	require.NoError(t, tg.Send(context.Background(), "42", text))
	assert.Equal(t, text, raw["text"])
	assert.NotContains(t, raw, "parse_mode")
}

func TestTelegramRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("t", testLogger(), WithBaseURL(srv.URL), WithMaxElapsed(10*time.Second))
	require.NoError(t, tg.Send(context.Background(), "42", "hi"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramRejectedIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("t", testLogger(), WithBaseURL(srv.URL))
	err := tg.Send(context.Background(), "nobody", "hi")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogNotifier(t *testing.T) {
	var n Notifier = NewLog(testLogger())
	assert.NoError(t, n.Send(context.Background(), "42", "hi"))
	assert.NoError(t, n.SendVerification(context.Background(), "42", "123456"))

	var _ Notifier = (*Telegram)(nil)
}
