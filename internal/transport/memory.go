// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package transport

import (
	"context"
	"sync"
)

// MemoryDialer is an in-process transport used by tests and by the
// simulated transport mode. Each Connect produces a MemoryHandle whose
// events are driven explicitly by the test or simulator.
type MemoryDialer struct {
	mu      sync.Mutex
	handles []*MemoryHandle

	// ConnectErr, when set, is returned by the next Connect call.
	ConnectErr error
	// OnConnect, when set, is invoked with each new handle so callers
	// can script its behaviour before the session manager sees events.
	OnConnect func(*MemoryHandle)
}

// NewMemoryDialer creates an empty dialer.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{}
}

// Connect implements Dialer.
func (d *MemoryDialer) Connect(_ context.Context, creds Credentials) (Handle, error) {
	d.mu.Lock()
	if err := d.ConnectErr; err != nil {
		d.mu.Unlock()
		return nil, err
	}
	h := NewMemoryHandle()
	h.creds = creds
	d.handles = append(d.handles, h)
	hook := d.OnConnect
	d.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	return h, nil
}

// SetConnectErr scripts the outcome of subsequent Connect calls. A nil
// value restores normal connects.
func (d *MemoryDialer) SetConnectErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectErr = err
}

// Handles returns all handles created so far, in connect order.
func (d *MemoryDialer) Handles() []*MemoryHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MemoryHandle, len(d.handles))
	copy(out, d.handles)
	return out
}

// SentMessage records one Send call on a MemoryHandle.
type SentMessage struct {
	Address string
	Payload string
}

// MemoryHandle is a scripted Handle. Tests drive its event stream via
// EmitQR/EmitOpened/EmitClosed and inspect sends via Sent().
type MemoryHandle struct {
	mu     sync.Mutex
	creds  Credentials
	events chan Event
	closed bool
	sent   []SentMessage

	// SendFunc, when set, replaces the default record-and-succeed send.
	SendFunc func(ctx context.Context, address, payload string) error

	// Roster data returned by the directory source queries.
	GroupList    []Group
	ContactList  []Contact
	ChatList     []Contact
	PresenceList []string

	// Per-source errors for simulating unavailable sources.
	GroupsErr    error
	ContactsErr  error
	ChatsErr     error
	PresencesErr error

	LogoutCalled bool
}

// NewMemoryHandle creates a handle with a buffered event stream.
func NewMemoryHandle() *MemoryHandle {
	return &MemoryHandle{events: make(chan Event, 32)}
}

// Send implements Handle.
func (h *MemoryHandle) Send(ctx context.Context, address, payload string) error {
	h.mu.Lock()
	fn := h.SendFunc
	h.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, address, payload); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.sent = append(h.sent, SentMessage{Address: address, Payload: payload})
	h.mu.Unlock()
	return nil
}

// Sent returns all successful sends in order.
func (h *MemoryHandle) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

// Groups implements Handle.
func (h *MemoryHandle) Groups(context.Context) ([]Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Group(nil), h.GroupList...), h.GroupsErr
}

// Contacts implements Handle.
func (h *MemoryHandle) Contacts(context.Context) ([]Contact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Contact(nil), h.ContactList...), h.ContactsErr
}

// Chats implements Handle.
func (h *MemoryHandle) Chats(context.Context) ([]Contact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Contact(nil), h.ChatList...), h.ChatsErr
}

// Presences implements Handle.
func (h *MemoryHandle) Presences(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.PresenceList...), h.PresencesErr
}

// Events implements Handle.
func (h *MemoryHandle) Events() <-chan Event {
	return h.events
}

// Logout implements Handle.
func (h *MemoryHandle) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LogoutCalled = true
	return nil
}

// Close implements Handle. It closes the event stream; repeated calls
// are no-ops.
func (h *MemoryHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// EmitQR pushes a qr-issued event.
func (h *MemoryHandle) EmitQR(payload string) {
	h.emit(Event{Type: EventQRIssued, QR: payload})
}

// EmitOpened pushes an opened event.
func (h *MemoryHandle) EmitOpened(identity string) {
	h.emit(Event{Type: EventOpened, Identity: identity})
}

// EmitClosed pushes a closed event with the given reason and then closes
// the stream, mirroring a real connection teardown.
func (h *MemoryHandle) EmitClosed(reason error) {
	h.emit(Event{Type: EventClosed, Err: reason})
	_ = h.Close()
}

// EmitMessage pushes an inbound message event.
func (h *MemoryHandle) EmitMessage(msg Message) {
	h.emit(Event{Type: EventMessageReceived, Message: msg})
}

// EmitRosterChanged pushes a roster-changed event.
func (h *MemoryHandle) EmitRosterChanged() {
	h.emit(Event{Type: EventRosterChanged})
}

func (h *MemoryHandle) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		// The buffer is full; drop the event rather than block under the
		// lock, which would deadlock a concurrent Close.
	}
}
