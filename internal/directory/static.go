package directory

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
)

// StaticDirectory serves a fixed order table, used for development.
type StaticDirectory struct {
	orders map[string]model.Participants
}

func NewStaticDirectory(orders map[string]model.Participants) *StaticDirectory {
	return &StaticDirectory{orders: orders}
}

// ParseStatic parses "orderId=requester:agent,orderId=requester:agent".
func ParseStatic(raw string) (*StaticDirectory, error) {
	orders := make(map[string]model.Participants)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		orderID, pair, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid directory entry %q: missing '='", entry)
		}
		requester, agent, ok := strings.Cut(pair, ":")
		if !ok || requester == "" || agent == "" {
			return nil, fmt.Errorf("invalid directory entry %q: expected requester:agent", entry)
		}
		if requester == agent {
			return nil, fmt.Errorf("invalid directory entry %q: requester and agent must differ", entry)
		}
		orders[strings.TrimSpace(orderID)] = model.Participants{
			RequesterID: strings.TrimSpace(requester),
			AgentID:     strings.TrimSpace(agent),
		}
	}
	return NewStaticDirectory(orders), nil
}

func (d *StaticDirectory) ResolveRoomParticipants(_ context.Context, orderID string) (model.Participants, error) {
	p, ok := d.orders[orderID]
	if !ok {
		return model.Participants{}, apperrors.RoomNotFound(orderID)
	}
	return p, nil
}

func (d *StaticDirectory) ResolveAssignedAgent(ctx context.Context, orderID string) (string, error) {
	p, err := d.ResolveRoomParticipants(ctx, orderID)
	if err != nil {
		return "", err
	}
	return p.AgentID, nil
}
