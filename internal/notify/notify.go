// Package notify delivers one outbound message per tuning run or risk transition.
// Delivery is best-effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/observability"
)

// Level tags a message for formatting.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is a short text notification.
type Message struct {
	Level     Level
	Title     string
	Body      string
	Timestamp time.Time
}

// Notifier is an outbound channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Manager fans a message out to every channel.
type Manager struct {
	notifiers []Notifier
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewManager creates a fan-out manager. metrics may be nil.
func NewManager(logger zerolog.Logger, metrics *observability.Metrics, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		metrics:   metrics,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// Add registers another channel.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Notify sends msg to all channels. One failing channel does not stop the others;
// the joined error is returned for the caller to log.
func (m *Manager) Notify(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var errs []error
	for _, n := range m.notifiers {
		err := n.Notify(ctx, msg)
		m.metrics.RecordNotification(n.Name(), err)
		if err != nil {
			m.logger.Warn().Err(err).Str("channel", n.Name()).Str("title", msg.Title).Msg("notification failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Notifier so managers can nest.
func (m *Manager) Name() string {
	return "manager"
}

// LogNotifier writes messages to the logger. Used when no remote channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify.log").Logger()}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, msg Message) error {
	ev := l.logger.Info()
	switch msg.Level {
	case LevelWarning:
		ev = l.logger.Warn()
	case LevelError:
		ev = l.logger.Error()
	}
	ev.Str("title", msg.Title).Str("body", msg.Body).Msg("notification")
	return nil
}
