package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	name string
	err  error
	got  []Message
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func TestManager_FanOutContinuesPastFailure(t *testing.T) {
	bad := &recordingNotifier{name: "bad", err: errors.New("down")}
	good := &recordingNotifier{name: "good"}
	m := NewManager(zerolog.Nop(), nil, bad, good)

	err := m.Notify(context.Background(), Message{Title: "Tuning run APPLIED"})
	assert.Error(t, err)
	require.Len(t, good.got, 1)
	assert.False(t, good.got[0].Timestamp.IsZero())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	require.NoError(t, n.Notify(context.Background(), Message{Level: LevelWarning, Title: "risk CAUTIOUS"}))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "risk CAUTIOUS")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL})
	err := n.Notify(context.Background(), Message{Level: LevelError, Title: "Tuning run FAILED", Body: "disk full"})
	require.NoError(t, err)

	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "[ERROR] Tuning run FAILED\n\ndisk full", payload["text"])
}

func TestTelegramNotifier_RetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "T", ChatID: "1", BaseURL: srv.URL})
	require.NoError(t, n.Notify(context.Background(), Message{Title: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTelegramNotifier_GivesUpAfterRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "T", ChatID: "1", BaseURL: srv.URL})
	assert.Error(t, n.Notify(context.Background(), Message{Title: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTelegramNotifier_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "T", ChatID: "1", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	assert.Error(t, n.Notify(context.Background(), Message{Title: "x"}))
	assert.Less(t, time.Since(start), time.Second)
}
