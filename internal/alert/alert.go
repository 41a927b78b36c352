// Package alert delivers liquidation outcomes to humans. Delivery is best-effort.
package alert

import (
	"context"
	"errors"
	"log/slog"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Attachment is a small table, rendered as CSV by text sinks.
type Attachment struct {
	Name   string
	Header []string
	Rows   [][]string
}

type Alert struct {
	ID          string
	Level       Level
	Title       string
	Text        string
	Attachments []Attachment
}

type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier wraps a sink so callers never see delivery failures; they are logged.
type Notifier struct {
	sink Sink
	log  *slog.Logger
}

func NewNotifier(sink Sink, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{sink: sink, log: log}
}

func (n *Notifier) Send(ctx context.Context, a Alert) {
	if n == nil || n.sink == nil {
		return
	}
	if err := n.sink.Notify(ctx, a); err != nil {
		n.log.Warn("alert delivery failed", "alert", a.ID, "title", a.Title, "err", err)
	}
}
