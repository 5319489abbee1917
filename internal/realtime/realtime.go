// Package realtime turns inserted notification rows into push deliveries.
//
// A [Feed] yields a [Stream] of notifications as they are inserted, either
// from Postgres LISTEN/NOTIFY ([PGFeed]) or from a RabbitMQ queue
// ([AMQPFeed]). The [Bridge] keeps one stream connected, queues incoming
// events and fans each one out to the station's subscribers.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/njoerd114/fuelrelay/internal/model"
)

// State is the bridge's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	// StateDegraded means the stream is up but reported a non-fatal error.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Feed opens streams of inserted notifications.
type Feed interface {
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one live connection. Events is closed when the connection is
// lost; Errors carries problems that do not end the stream, such as a
// payload that failed to decode.
type Stream interface {
	Events() <-chan model.Notification
	Errors() <-chan error
	Close() error
}

// rowPayload is a notification row as serialized by Postgres row_to_json or
// by [AMQPPublisher]. Timestamps are kept as strings because row_to_json
// drops the "T" separator for some column types.
type rowPayload struct {
	ID               string  `json:"id"`
	StationID        string  `json:"station_id"`
	Title            string  `json:"title"`
	Message          string  `json:"message"`
	NotificationType string  `json:"notification_type"`
	FuelType         *string `json:"fuel_type"`
	CreatedBy        string  `json:"created_by"`
	SentAt           string  `json:"sent_at"`
	CreatedAt        string  `json:"created_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// DecodeNotification parses an inserted row. The row may be bare or wrapped
// in a change envelope under "new" or "record".
func DecodeNotification(raw []byte) (model.Notification, error) {
	raw = bytes.TrimSpace(raw)
	var envelope struct {
		New    json.RawMessage `json:"new"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	switch {
	case len(envelope.New) > 0:
		raw = envelope.New
	case len(envelope.Record) > 0:
		raw = envelope.Record
	}

	var p rowPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification: %w", err)
	}

	n := model.Notification{
		ID:               p.ID,
		StationID:        p.StationID,
		Title:            p.Title,
		Message:          p.Message,
		NotificationType: model.NotificationType(strings.TrimSpace(p.NotificationType)),
		CreatedBy:        p.CreatedBy,
	}
	if p.FuelType != nil && *p.FuelType != "" {
		ft := model.FuelType(*p.FuelType)
		n.FuelType = &ft
	}
	var err error
	if n.SentAt, err = parseTimestamp(p.SentAt); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification sent_at: %w", err)
	}
	if n.CreatedAt, err = parseTimestamp(p.CreatedAt); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification created_at: %w", err)
	}
	if n.ID == "" {
		return model.Notification{}, fmt.Errorf("decode notification: empty id")
	}
	if err := n.Validate(); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}
