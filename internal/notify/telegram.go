package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig holds Telegram configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration // per attempt
	BaseURL  string        // overridable for tests
}

// TelegramNotifier posts to the Bot API sendMessage endpoint with a per-attempt
// timeout, at most one retry, and a circuit breaker so a dead endpoint is not
// hammered every run.
type TelegramNotifier struct {
	cfg     TelegramConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewTelegramNotifier creates a new Telegram notifier.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}

	st := gobreaker.Settings{
		Name:     "telegram",
		Interval: 10 * time.Minute,
		Timeout:  5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
	}

	return &TelegramNotifier{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// Notify sends msg. The first failure is retried once.
func (t *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		err := t.send(ctx, msg)
		if err == nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, t.send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}

func (t *TelegramNotifier) send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	payload := map[string]interface{}{
		"chat_id":                  t.cfg.ChatID,
		"text":                     Format(msg),
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// Format renders a message as plain text.
func Format(msg Message) string {
	prefix := ""
	switch msg.Level {
	case LevelWarning:
		prefix = "[WARN] "
	case LevelError:
		prefix = "[ERROR] "
	}
	if msg.Body == "" {
		return prefix + msg.Title
	}
	return prefix + msg.Title + "\n\n" + msg.Body
}
