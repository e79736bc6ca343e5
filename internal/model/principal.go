package model

import "time"

type Role string

const (
	RoleRequester Role = "requester"
	RoleAgent     Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleAgent
}

// Principal is an authenticated identity. A principal may hold many sessions.
type Principal struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}
