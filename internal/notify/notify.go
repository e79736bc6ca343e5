// Package notify forwards unread-count changes to an external notification
// sink. Delivery is fire-and-forget and never blocks the caller.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type UnreadChange struct {
	PrincipalID string    `json:"principalId"`
	OrderID     string    `json:"orderId"`
	Unread      int64     `json:"unread"`
	ChangedAt   time.Time `json:"changedAt"`
}

type Sink interface {
	UnreadChanged(ctx context.Context, change UnreadChange) error
}

// Notifier dispatches changes to a Sink on a background goroutine bounded
// by timeout.
type Notifier struct {
	sink    Sink
	timeout time.Duration
}

func NewNotifier(sink Sink, timeout time.Duration) *Notifier {
	if sink == nil {
		sink = Noop{}
	}
	return &Notifier{sink: sink, timeout: timeout}
}

func (n *Notifier) UnreadChanged(principalID, orderID string, unread int64) {
	change := UnreadChange{
		PrincipalID: principalID,
		OrderID:     orderID,
		Unread:      unread,
		ChangedAt:   time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.sink.UnreadChanged(ctx, change); err != nil {
			log.Warn().
				Err(err).
				Str("principalId", principalID).
				Str("orderId", orderID).
				Msg("failed to notify unread change")
		}
	}()
}

type Noop struct{}

func (Noop) UnreadChanged(context.Context, UnreadChange) error { return nil }
