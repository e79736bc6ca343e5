package service

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/util"
)

const (
	MaxContentLength = 4000
	MaxAttachments   = 10
)

func validateOrderID(orderID string) error {
	if orderID == "" {
		return apperrors.MissingRequired("orderId")
	}
	if !util.IsValidOrderID(orderID) {
		return apperrors.InvalidInput("orderId", "must be 1-128 characters of [A-Za-z0-9._:-]")
	}
	return nil
}

func validateRoomKind(kind model.RoomKind) error {
	if kind == "" {
		return apperrors.MissingRequired("kind")
	}
	if !kind.Valid() {
		return apperrors.InvalidInput("kind", fmt.Sprintf("must be %q or %q", model.RoomKindChat, model.RoomKindTracking))
	}
	return nil
}

func validateMessage(req model.SendRequest) error {
	if err := validateOrderID(req.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return apperrors.MissingRequired("content")
	}
	if !utf8.ValidString(req.Content) {
		return apperrors.InvalidInput("content", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return apperrors.InvalidInput("content", fmt.Sprintf("must be at most %d characters", MaxContentLength))
	}
	if len(req.Attachments) > MaxAttachments {
		return apperrors.InvalidInput("attachments", fmt.Sprintf("at most %d allowed", MaxAttachments))
	}
	for _, a := range req.Attachments {
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return apperrors.InvalidInput("attachments", "url must be an absolute http(s) URL")
		}
	}
	return nil
}

func encodeEvent(t model.FrameType, payload any) (model.Frame, error) {
	f, err := model.NewEvent(t, payload)
	if err != nil {
		return model.Frame{}, apperrors.Internal("Failed to encode event").WithCause(err)
	}
	return f, nil
}
