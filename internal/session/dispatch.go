package session

import (
	"context"
	"fmt"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
)

// HandlerFunc handles one client op. The returned value becomes the ack
// payload.
type HandlerFunc func(ctx context.Context, s *Session, frame model.ClientFrame) (any, error)

// Handle registers fn for op on this session only.
func (s *Session) Handle(op model.Op, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = fn
}

// Dispatch routes a client frame through the session's own table.
func (s *Session) Dispatch(ctx context.Context, frame model.ClientFrame) (any, error) {
	s.mu.Lock()
	fn, ok := s.handlers[frame.Op]
	s.mu.Unlock()

	if !ok {
		return nil, apperrors.ValidationError(fmt.Sprintf("Unsupported op %q", frame.Op))
	}
	return fn(ctx, s, frame)
}
