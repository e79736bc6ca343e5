package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const unreadSubjectPrefix = "orderlink.unread."

func UnreadSubject(principalID string) string {
	return unreadSubjectPrefix + principalID
}

// NATSSink publishes changes as core NATS messages on
// orderlink.unread.<principalId>.
type NATSSink struct {
	nc *nats.Conn
}

func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

func (s *NATSSink) UnreadChanged(ctx context.Context, change UnreadChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(change)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(UnreadSubject(change.PrincipalID))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close drains pending publishes.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
