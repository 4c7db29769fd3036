// Package alert delivers "new pending item" notices to the admin.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Notice describes a batch of newly arrived pending items.
type Notice struct {
	Source string    `json:"source"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	IDs    []string  `json:"ids"`
	At     time.Time `json:"at"`
}

// NewNotice builds a notice for ids arriving on source.
func NewNotice(source, title string, ids []string) Notice {
	body := "1 new pending item"
	if len(ids) != 1 {
		body = fmt.Sprintf("%d new pending items", len(ids))
	}
	return Notice{
		Source: source,
		Title:  title,
		Body:   body,
		IDs:    ids,
		At:     time.Now(),
	}
}

type Alerter interface {
	Alert(ctx context.Context, n Notice) error
}

// Func adapts a function to Alerter.
type Func func(ctx context.Context, n Notice) error

func (f Func) Alert(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// Multi delivers to every alerter, even after one fails.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, n Notice) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notices to a logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Alert(_ context.Context, n Notice) error {
	l.Logger.Info("new pending items", "source", n.Source, "count", len(n.IDs), "ids", n.IDs)
	return nil
}
