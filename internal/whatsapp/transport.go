package whatsapp

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned when an operation needs a connected session.
var ErrNotConnected = errors.New("whatsapp transport unavailable")

type EventKind int

const (
	EventPairingCode EventKind = iota + 1
	EventOpened
	EventClosed
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// DeviceIdentity is the linked account once the session is open.
type DeviceIdentity struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// CloseReason describes why the transport connection ended.
type CloseReason struct {
	// LoggedOut is set when the session was revoked from the phone or by the server.
	LoggedOut bool
	Detail    string
}

type InboundMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TransportEvent is one event from an open transport session.
type TransportEvent struct {
	Kind     EventKind
	Code     string
	Identity *DeviceIdentity
	Close    CloseReason
	Message  *InboundMessage
}

// EventSink receives transport events in the order the transport produced them.
type EventSink func(TransportEvent)

// NumberCheck is the result of an existence query.
type NumberCheck struct {
	Exists bool   `json:"exists"`
	JID    string `json:"addressableId,omitempty"`
}

// Transport is the messaging capability the Manager drives: pair, send, query and receive.
type Transport interface {
	// Open starts a session and returns once the connection attempt is under way.
	// Pairing codes, open and close notifications arrive through sink. A session that
	// Close or a later Open replaces while it is still opening is dropped by Open itself.
	Open(ctx context.Context, sink EventSink) error
	Send(ctx context.Context, jid, text string) (string, error)
	Exists(ctx context.Context, phone string) (NumberCheck, error)
	Logout(ctx context.Context) error
	Close()
	// ClearCredentials removes the persisted session so the next Open pairs again.
	ClearCredentials(ctx context.Context) error
}
