// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package session implements the connection lifecycle manager: it owns
// the single live transport handle, drives the pairing and reconnection
// state machine, and publishes status snapshots to the dashboard.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/metrics"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/transport"
)

// ErrNotConnected is returned by operations that require an established
// session when there is none.
var ErrNotConnected = errors.New("session not connected")

// Broadcaster pushes status snapshots to dashboard clients.
type Broadcaster interface {
	BroadcastStatus(models.StatusUpdate)
}

// Config tunes reconnection behaviour.
type Config struct {
	// ReconnectBase is the first retry delay after a transient loss; the
	// delay doubles per consecutive failure.
	ReconnectBase time.Duration
	// ReconnectMax caps the doubled delay.
	ReconnectMax time.Duration
	// ReinitDelay is the pause before re-initializing after an explicit
	// disconnect or a remote logout.
	ReinitDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = 16 * c.ReconnectBase
	}
	if c.ReinitDelay <= 0 {
		c.ReinitDelay = 2 * time.Second
	}
}

// Manager owns the session lifecycle. Exactly one transport handle is
// live at a time; Serve runs the connect/pump/reconnect loop until its
// context is cancelled.
type Manager struct {
	cfg         Config
	dialer      transport.Dialer
	creds       *CredentialStore
	qr          *QRArtifacts
	broadcaster Broadcaster

	mu     sync.RWMutex
	status models.ConnectionStatus
	handle transport.Handle

	attempts      atomic.Int32
	explicitClose atomic.Bool

	hookMu          sync.RWMutex
	onOpen          func()
	onMessage       func(transport.Message)
	onRosterChanged func()
}

// NewManager creates a manager in the disconnected phase.
func NewManager(cfg Config, dialer transport.Dialer, creds *CredentialStore, qr *QRArtifacts, b Broadcaster) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:         cfg,
		dialer:      dialer,
		creds:       creds,
		qr:          qr,
		broadcaster: b,
		status: models.ConnectionStatus{
			Phase:     models.PhaseDisconnected,
			ChangedAt: time.Now().UTC(),
		},
	}
}

// SetOnOpen registers a callback invoked after each successful session
// establishment. It runs on its own goroutine.
func (m *Manager) SetOnOpen(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onOpen = fn
}

// SetOnMessage registers the inbound message callback.
func (m *Manager) SetOnMessage(fn func(transport.Message)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onMessage = fn
}

// SetOnRosterChanged registers the remote roster change callback.
func (m *Manager) SetOnRosterChanged(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onRosterChanged = fn
}

// String implements fmt.Stringer for supervisor logs.
func (m *Manager) String() string { return "session-manager" }

// Serve implements suture.Service: connect, pump events, and reconnect
// with bounded backoff until the context is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case m.explicitClose.CompareAndSwap(true, false):
			m.attempts.Store(0)
			logging.Info().
				Dur("delay", m.cfg.ReinitDelay).
				Msg("session closed by request, re-initializing")
			if !sleepCtx(ctx, m.cfg.ReinitDelay) {
				return ctx.Err()
			}

		case transport.IsLoggedOut(err):
			// Remote logout invalidates the bundle; reconnecting with it
			// would loop forever. Erase and re-pair.
			m.attempts.Store(0)
			logging.Warn().Err(err).Msg("session logged out remotely, erasing credentials")
			if eraseErr := m.creds.Erase(); eraseErr != nil {
				logging.Err(eraseErr).Msg("failed to erase credentials after logout")
			}
			if !sleepCtx(ctx, m.cfg.ReinitDelay) {
				return ctx.Err()
			}

		default:
			delay := backoffDelay(m.cfg.ReconnectBase, m.cfg.ReconnectMax, m.attempts.Add(1))
			metrics.SessionReconnects.Inc()
			logging.Warn().Err(err).Dur("delay", delay).Msg("session lost, reconnecting")
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
		}
	}
}

// runSession connects once and pumps events until the stream ends or the
// context is cancelled. The returned error is the close reason.
func (m *Manager) runSession(ctx context.Context) error {
	if err := m.creds.Ensure(); err != nil {
		return err
	}

	h, err := m.dialer.Connect(ctx, m.creds.Credentials())
	if err != nil {
		m.setDisconnected(err)
		return fmt.Errorf("connect failed: %w", err)
	}

	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.handle == h {
			m.handle = nil
		}
		m.mu.Unlock()
		_ = h.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.Events():
			if !ok {
				streamErr := errors.New("event stream closed")
				m.setDisconnected(streamErr)
				return streamErr
			}
			if err := m.handleEvent(ev); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) handleEvent(ev transport.Event) error {
	switch ev.Type {
	case transport.EventQRIssued:
		m.applyQRIssued(ev.QR)

	case transport.EventOpened:
		m.applyOpened(ev.Identity)

	case transport.EventClosed:
		reason := ev.Err
		if reason == nil {
			reason = errors.New("connection closed")
		}
		m.setDisconnected(reason)
		return reason

	case transport.EventMessageReceived:
		m.hookMu.RLock()
		fn := m.onMessage
		m.hookMu.RUnlock()
		if fn != nil {
			fn(ev.Message)
		}

	case transport.EventRosterChanged:
		m.hookMu.RLock()
		fn := m.onRosterChanged
		m.hookMu.RUnlock()
		if fn != nil {
			fn()
		}
	}
	return nil
}

func (m *Manager) applyQRIssued(payload string) {
	ref, err := m.qr.Write(payload)
	if err != nil {
		logging.Err(err).Msg("failed to write qr artifacts")
	}
	metrics.SessionQRIssued.Inc()
	m.setStatus(func(s *models.ConnectionStatus) {
		s.Phase = models.PhaseAwaitingScan
		s.QRPayload = payload
		s.QRImageRef = ref
		s.SessionID = ""
		s.Identity = ""
		s.LastError = ""
	})
	logging.Info().Msg("pairing qr issued")
}

func (m *Manager) applyOpened(identity string) {
	if err := m.qr.Clear(); err != nil {
		logging.Err(err).Msg("failed to clear qr artifacts")
	}
	m.attempts.Store(0)
	metrics.SessionConnected.Set(1)

	sessionID := uuid.NewString()
	m.setStatus(func(s *models.ConnectionStatus) {
		s.Phase = models.PhaseConnected
		s.SessionID = sessionID
		s.Identity = identity
		s.QRPayload = ""
		s.QRImageRef = ""
		s.LastError = ""
	})
	logging.Info().
		Str("identity", identity).
		Str("session_id", sessionID).
		Msg("session established")

	m.hookMu.RLock()
	fn := m.onOpen
	m.hookMu.RUnlock()
	if fn != nil {
		go fn()
	}
}

func (m *Manager) setDisconnected(cause error) {
	metrics.SessionConnected.Set(0)
	m.setStatus(func(s *models.ConnectionStatus) {
		s.Phase = models.PhaseDisconnected
		s.QRPayload = ""
		s.QRImageRef = ""
		s.Identity = ""
		s.SessionID = ""
		if cause != nil {
			s.LastError = cause.Error()
		}
	})
}

// setStatus applies a mutation under the lock, stamps the transition
// time, and broadcasts the resulting snapshot.
func (m *Manager) setStatus(mutate func(*models.ConnectionStatus)) {
	m.mu.Lock()
	mutate(&m.status)
	m.status.ChangedAt = time.Now().UTC()
	snapshot := m.status
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.BroadcastStatus(models.StatusUpdateFrom(snapshot))
	}
}

// Status returns the current connection snapshot.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LiveHandle returns the established transport handle, or ErrNotConnected
// when the session is in any other phase.
func (m *Manager) LiveHandle() (transport.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status.Phase != models.PhaseConnected || m.handle == nil {
		return nil, ErrNotConnected
	}
	return m.handle, nil
}

// Disconnect logs the session out, erases the credential bundle, and
// lets Serve re-initialize into a fresh pairing flow. Returns
// ErrNotConnected when no session is established.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.status.Phase != models.PhaseConnected || m.handle == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	h := m.handle
	m.mu.Unlock()

	m.setStatus(func(s *models.ConnectionStatus) {
		s.Phase = models.PhaseClosing
	})
	m.explicitClose.Store(true)

	if err := h.Logout(ctx); err != nil {
		logging.Err(err).Msg("logout request failed")
	}
	if err := h.Close(); err != nil {
		logging.Err(err).Msg("failed to close transport handle")
	}
	if err := m.creds.Erase(); err != nil {
		return fmt.Errorf("failed to erase credentials: %w", err)
	}

	metrics.SessionConnected.Set(0)
	logging.Info().Msg("session disconnected by request")
	return nil
}

// backoffDelay computes the delay before reconnection attempt n: the
// base doubled per prior failure, capped, with 20% jitter either way.
func backoffDelay(base, maxDelay time.Duration, attempt int32) time.Duration {
	d := base
	for i := int32(1); i < attempt; i++ {
		if d >= maxDelay {
			break
		}
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	factor := 0.8 + 0.4*rand.Float64() //nolint:gosec // jitter needs no crypto rand
	return time.Duration(float64(d) * factor)
}

// sleepCtx waits for d, returning false if the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
