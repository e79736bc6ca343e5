package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
)

// HTTPDirectory calls the order directory service:
//
//	GET {base}/orders/{orderId}/participants -> {"requesterId": "...", "agentId": "..."}
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (d *HTTPDirectory) ResolveRoomParticipants(ctx context.Context, orderID string) (model.Participants, error) {
	var p model.Participants

	endpoint := fmt.Sprintf("%s/orders/%s/participants", d.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return p, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("orderId", orderID).
			Dur("elapsed", elapsed).
			Msg("order directory request failed")
		return p, apperrors.External("order directory", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return p, apperrors.RoomNotFound(orderID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Error().
			Str("orderId", orderID).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("order directory returned error status")
		return p, apperrors.External("order directory", fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return p, apperrors.External("order directory", fmt.Errorf("decode participants: %w", err))
	}
	if p.RequesterID == "" || p.AgentID == "" {
		return p, apperrors.External("order directory", fmt.Errorf("incomplete participants for %s", orderID))
	}

	log.Debug().
		Str("orderId", orderID).
		Dur("elapsed", elapsed).
		Msg("resolved room participants")

	return p, nil
}

func (d *HTTPDirectory) ResolveAssignedAgent(ctx context.Context, orderID string) (string, error) {
	p, err := d.ResolveRoomParticipants(ctx, orderID)
	if err != nil {
		return "", err
	}
	return p.AgentID, nil
}
