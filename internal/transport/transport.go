// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package transport defines the session transport boundary: the opaque
// connection to the remote chat network. The relay core never touches the
// wire protocol; it consumes connect/send/query primitives and a stream of
// lifecycle events from a Handle.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Credentials references the persisted credential bundle. The bundle
// itself is an opaque multi-file directory owned by the session manager;
// the transport only needs its location.
type Credentials struct {
	Dir string
}

// EventType enumerates transport lifecycle events.
type EventType int

const (
	// EventQRIssued carries a pairing payload that must be scanned to
	// authenticate the session.
	EventQRIssued EventType = iota
	// EventOpened signals a fully established session.
	EventOpened
	// EventClosed signals connection loss. Err distinguishes transient
	// failures from terminal logout (see IsLoggedOut).
	EventClosed
	// EventMessageReceived carries one inbound message.
	EventMessageReceived
	// EventRosterChanged signals that group or contact data changed
	// remotely and the directory should be refreshed.
	EventRosterChanged
)

// Event is one entry in a Handle's event stream.
type Event struct {
	Type     EventType
	QR       string  // EventQRIssued
	Identity string  // EventOpened
	Err      error   // EventClosed
	Message  Message // EventMessageReceived
}

// Message is one inbound chat message, reduced to the fields the relay
// core consumes.
type Message struct {
	// ChatAddress is the conversation the message arrived in: a group
	// address for group chats, the counterparty address for direct chats.
	ChatAddress string
	// Participant is the true sender address inside a group chat; empty
	// for direct chats.
	Participant string
	// PushName is the sender's self-reported display name, if any.
	PushName string
	Text     string
	FromSelf bool
}

// SenderAddress returns the true sender: the participant for group
// messages, the chat address itself for direct messages.
func (m Message) SenderAddress() string {
	if m.Participant != "" {
		return m.Participant
	}
	return m.ChatAddress
}

// Group is one entry from the explicit group roster.
type Group struct {
	Address string
	Subject string
}

// Contact is one entry from the contact or chat records.
type Contact struct {
	Address string
	Name    string
}

// Handle is a live session connection. Exactly one Handle exists at a
// time, owned by the session manager.
type Handle interface {
	// Send delivers a text payload to the given address. It blocks until
	// the network acknowledges, the context is done, or the send fails.
	Send(ctx context.Context, address, payload string) error

	// Groups returns the explicit group roster. This is the only source
	// of group-kind directory identifiers.
	Groups(ctx context.Context) ([]Group, error)
	// Contacts returns the contact records known to the session.
	Contacts(ctx context.Context) ([]Contact, error)
	// Chats returns the chat records known to the session.
	Chats(ctx context.Context) ([]Contact, error)
	// Presences returns bare addresses seen in presence records.
	Presences(ctx context.Context) ([]string, error)

	// Events returns the lifecycle event stream. The channel is closed
	// when the connection is torn down.
	Events() <-chan Event

	// Logout invalidates the remote session.
	Logout(ctx context.Context) error
	// Close tears down the connection without logging out.
	Close() error
}

// Dialer creates a Handle from persisted credentials. An empty or missing
// bundle yields an unauthenticated session that will emit EventQRIssued.
type Dialer interface {
	Connect(ctx context.Context, creds Credentials) (Handle, error)
}

// ErrLoggedOut marks a terminal close: the remote side invalidated the
// credentials and reconnecting with them is pointless. Everything else is
// treated as transient and retried.
var ErrLoggedOut = errors.New("session logged out")

// LoggedOutError wraps a transport-specific cause as terminal.
func LoggedOutError(cause error) error {
	if cause == nil {
		return ErrLoggedOut
	}
	return fmt.Errorf("%w: %v", ErrLoggedOut, cause)
}

// IsLoggedOut reports whether a close reason is terminal logout.
func IsLoggedOut(err error) bool {
	return errors.Is(err, ErrLoggedOut)
}
