// Package queue dispatches payout work either in-process or through SQS.
package queue

import (
	"context"
	"errors"
	"log/slog"
)

// ErrDeferred reports that the work was queued rather than run.
var ErrDeferred = errors.New("payout deferred to queue")

// Handler performs the payout for one payment intent.
type Handler func(ctx context.Context, intentID string) error

type Dispatcher interface {
	Dispatch(ctx context.Context, intentID string) error
}

// Inline runs the handler on the caller's goroutine.
type Inline struct {
	handler Handler
	log     *slog.Logger
}

func NewInline(handler Handler, log *slog.Logger) *Inline {
	return &Inline{handler: handler, log: log.With("component", "payout_inline")}
}

func (q *Inline) Dispatch(ctx context.Context, intentID string) error {
	if err := q.handler(ctx, intentID); err != nil {
		q.log.Error("Payout failed", "intent_id", intentID, "error", err)
		return err
	}
	return nil
}
