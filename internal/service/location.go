package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/audit"
	"github.com/orderlink/realtime-server-go/internal/directory"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// maxClockSkew bounds how far in the future a client observedAt may be.
const maxClockSkew = 30 * time.Second

const publishStripes = 64

// LocationService relays the assigned agent's position: latest value wins,
// no queueing and no history.
type LocationService struct {
	registry  *room.Registry
	dir       directory.Directory
	locations repository.LocationStore

	// publishMu serializes publishes per order, room or not, so the stored
	// sample is always the last one broadcast.
	publishMu [publishStripes]sync.Mutex
}

func NewLocationService(registry *room.Registry, dir directory.Directory, locations repository.LocationStore) *LocationService {
	return &LocationService{
		registry:  registry,
		dir:       dir,
		locations: locations,
	}
}

func (s *LocationService) Publish(ctx context.Context, sess *session.Session, req model.LocationRequest) (*model.LocationSample, error) {
	if sess.ReadOnly {
		return nil, apperrors.Forbidden("Read-only session cannot publish")
	}
	if err := validateOrderID(req.OrderID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sample := model.LocationSample{
		OrderID:    req.OrderID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		ObservedAt: now,
	}
	if req.ObservedAt != nil {
		if req.ObservedAt.After(now.Add(maxClockSkew)) {
			return nil, apperrors.InvalidInput("observedAt", "is in the future")
		}
		sample.ObservedAt = req.ObservedAt.UTC()
	}
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	key := model.TrackingRoom(req.OrderID)
	r := s.registry.Get(key)

	agentID, err := s.assignedAgent(ctx, r, req.OrderID)
	if err != nil {
		return nil, err
	}
	if sess.PrincipalID() != agentID || sess.Principal.Role != model.RoleAgent {
		audit.Log(ctx, audit.Event{
			Type:        audit.EventForbiddenPublish,
			PrincipalID: sess.PrincipalID(),
			SessionID:   sess.ID,
			OrderID:     req.OrderID,
		})
		return nil, apperrors.Forbidden("Only the assigned agent may publish location")
	}

	mu := s.publishLock(req.OrderID)
	mu.Lock()
	defer mu.Unlock()

	// The room may have been opened or evicted while resolving the agent.
	r = s.registry.Get(key)
	if r == nil {
		s.save(ctx, sample)
		return &sample, nil
	}

	err = r.Exclusive(func() error {
		r.SetLocation(sample, sess)
		sess.MarkPublished(key)

		frame, err := encodeEvent(model.EventLocationUpdate, sample)
		if err != nil {
			return err
		}
		r.Broadcast(frame, sess)
		s.save(ctx, sample)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// save mirrors the sample for joiners after eviction or restart. Failures
// only cost that fallback.
func (s *LocationService) save(ctx context.Context, sample model.LocationSample) {
	if err := s.locations.Save(ctx, sample); err != nil {
		log.Warn().Err(err).Str("orderId", sample.OrderID).Msg("failed to persist last known location")
	}
}

func (s *LocationService) publishLock(orderID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return &s.publishMu[h.Sum32()%publishStripes]
}

func (s *LocationService) assignedAgent(ctx context.Context, r *room.Room, orderID string) (string, error) {
	if r != nil {
		return r.Participants.AgentID, nil
	}
	return s.dir.ResolveAssignedAgent(ctx, orderID)
}
