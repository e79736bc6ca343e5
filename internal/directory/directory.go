// Package directory resolves which two principals are bound to an order.
package directory

import (
	"context"

	"github.com/orderlink/realtime-server-go/internal/model"
)

// Directory is the order/chat directory consulted for room authorization.
// Implementations return apperrors.RoomNotFound for unknown orders.
type Directory interface {
	ResolveRoomParticipants(ctx context.Context, orderID string) (model.Participants, error)
	ResolveAssignedAgent(ctx context.Context, orderID string) (string, error)
}
