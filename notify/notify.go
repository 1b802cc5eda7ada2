// Package notify defines the outbound alerting contract and the composable
// notifiers built on it.
package notify

import (
	"context"
	"log/slog"
	"time"
)

type Type int

const (
	Alarm Type = iota
	Metric
)

func (nt Type) String() string {
	switch nt {
	case Alarm:
		return "Alarm"
	case Metric:
		return "Metric"
	default:
		return "Unknown"
	}
}

type Notification struct {
	Timestamp time.Time
	Type      Type
	Level     slog.Level
	Source    string
	Message   string
	Fields    map[string]any
}

// Notifier is the contract for sending alarms and metrics.
// Implementations MUST be safe for concurrent use by multiple goroutines.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NilNotifier discards everything.
type NilNotifier struct{}

func NewNilNotifier() *NilNotifier { return &NilNotifier{} }

func (n *NilNotifier) Send(context.Context, Notification) error { return nil }

// MultiNotifier fans a notification out to several backends in order and
// stops at the first failure.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
