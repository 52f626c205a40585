// Package v1 defines the Pulse Realtime Protocol v1 contract.
//
// This package is shared between the dashboard client and the dev backend
// to keep the wire protocol authoritative. It has no dependencies beyond the
// standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "pulse.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSubscribeNotifications subscribes the session to the user's notification channel.
	TypeSubscribeNotifications = "subscribe_notifications"
	// TypeUnsubscribeNotifications drops the notification subscription.
	TypeUnsubscribeNotifications = "unsubscribe_notifications"

	// TypeNewNotification delivers one notification (server -> client).
	TypeNewNotification = "new_notification"
	// TypeUnreadCountUpdate delivers the current unread counter (server -> client).
	TypeUnreadCountUpdate = "unread_count_update"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a marshalled payload.
// A nil payload is encoded as an empty object.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = b
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}, nil
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSubscribeNotifications,
		TypeUnsubscribeNotifications,
		TypeNewNotification,
		TypeUnreadCountUpdate,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(e.Payload, dst)
}
