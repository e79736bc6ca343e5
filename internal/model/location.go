package model

import (
	"time"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
)

// LocationSample is the latest known position of an order's agent. Only
// one sample per order is ever retained.
type LocationSample struct {
	OrderID    string    `json:"orderId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	ObservedAt time.Time `json:"observedAt"`
}

func (s LocationSample) Validate() error {
	if s.Lat < -90 || s.Lat > 90 {
		return apperrors.InvalidInput("lat", "must be between -90 and 90")
	}
	if s.Lng < -180 || s.Lng > 180 {
		return apperrors.InvalidInput("lng", "must be between -180 and 180")
	}
	if s.Heading < 0 || s.Heading >= 360 {
		return apperrors.InvalidInput("heading", "must be in [0, 360)")
	}
	return nil
}
