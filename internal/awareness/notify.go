package awareness

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"awareness-svr/internal/observability"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is an operator-facing event.
type Notification struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Asset    string    `json:"asset,omitempty"`
}

func newNotification(now time.Time, sev Severity, title, msg, asset string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Time:     now,
		Severity: sev,
		Title:    title,
		Message:  msg,
		Asset:    asset,
	}
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifications")}
}

func (l *LogNotifier) Notify(n Notification) {
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, n.Title, "id", n.ID, "message", n.Message, "asset", n.Asset)
}

// Fanout delivers to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(n Notification) {
	for _, nt := range f {
		nt.Notify(n)
	}
}

func countNotification(n Notification) {
	observability.Notifications.WithLabelValues(string(n.Severity)).Inc()
}
