package model

import "fmt"

type RoomKind string

const (
	RoomKindChat     RoomKind = "chat"
	RoomKindTracking RoomKind = "tracking"
)

func (k RoomKind) Valid() bool {
	return k == RoomKindChat || k == RoomKindTracking
}

// RoomKey identifies a room. The chat and tracking rooms of one order are
// distinct rooms.
type RoomKey struct {
	Kind    RoomKind
	OrderID string
}

func ChatRoom(orderID string) RoomKey {
	return RoomKey{Kind: RoomKindChat, OrderID: orderID}
}

func TrackingRoom(orderID string) RoomKey {
	return RoomKey{Kind: RoomKindTracking, OrderID: orderID}
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.OrderID)
}

// Participants is the immutable pair of principals bound to an order.
type Participants struct {
	RequesterID string `json:"requesterId"`
	AgentID     string `json:"agentId"`
}

func (p Participants) Includes(principalID string) bool {
	return principalID != "" && (principalID == p.RequesterID || principalID == p.AgentID)
}

// Other returns the counterpart of principalID, or "" if principalID is
// not a participant.
func (p Participants) Other(principalID string) string {
	switch principalID {
	case p.RequesterID:
		return p.AgentID
	case p.AgentID:
		return p.RequesterID
	default:
		return ""
	}
}
