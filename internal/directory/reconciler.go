// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package directory maintains the reconciled destination directory: the
// merged, deduplicated view of every group and individual the session can
// address, persisted across restarts.
package directory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/metrics"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/store"
	"github.com/tomtom215/newsrelay/internal/transport"
)

const directoryFile = "contacts.json"

// HandleProvider yields the live transport handle, or an error when the
// session is not established.
type HandleProvider func() (transport.Handle, error)

// Config tunes the reconciler.
type Config struct {
	// DataDir holds the persisted directory file.
	DataDir string
	// SeedPlaceholders inserts provisional sample individuals when a
	// refresh discovers no real ones.
	SeedPlaceholders bool
}

// Reconciler merges the transport's four roster sources into one owned
// directory. All access is serialized through its lock; refreshes query
// the sources concurrently but apply results deterministically.
type Reconciler struct {
	cfg      Config
	handle   HandleProvider
	filePath string

	mu      sync.RWMutex
	entries map[string]models.DirectoryEntry
	// groupAddrs maps full transport addresses to group identifiers so
	// chat and contact records for a known group update the group entry
	// instead of minting a bogus individual.
	groupAddrs map[string]string
}

// NewReconciler creates a reconciler and loads any persisted directory.
func NewReconciler(cfg Config, handle HandleProvider) (*Reconciler, error) {
	r := &Reconciler{
		cfg:        cfg,
		handle:     handle,
		filePath:   filepath.Join(cfg.DataDir, directoryFile),
		entries:    make(map[string]models.DirectoryEntry),
		groupAddrs: make(map[string]string),
	}

	var persisted []models.DirectoryEntry
	if err := store.Load(r.filePath, &persisted); err != nil {
		if !errors.Is(err, store.ErrNotExist) {
			return nil, fmt.Errorf("failed to load directory: %w", err)
		}
	}
	for _, e := range persisted {
		r.entries[e.Identifier] = e
		// Group entries are keyed by their full transport address, so the
		// routing map can be rebuilt without waiting for the first refresh.
		if e.Kind == models.KindGroup {
			r.groupAddrs[e.Identifier] = e.Identifier
		}
	}
	r.updateMetrics()

	logging.Info().
		Str("component", "directory").
		Int("entries", len(r.entries)).
		Msg("directory loaded")
	return r, nil
}

// rosterSnapshot holds one refresh's source query results. A nil slice
// with sourceErr set means the source was skipped.
type rosterSnapshot struct {
	groups    []transport.Group
	contacts  []transport.Contact
	chats     []transport.Contact
	presences []string
}

// Refresh queries all four roster sources and merges the results. Source
// failures skip that source; the refresh itself only fails when no
// session is established.
func (r *Reconciler) Refresh(ctx context.Context) error {
	h, err := r.handle()
	if err != nil {
		return fmt.Errorf("directory refresh requires a session: %w", err)
	}

	var snap rosterSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.groups = querySource(r, gctx, "groups", h.Groups)
		return nil
	})
	g.Go(func() error {
		snap.contacts = querySource(r, gctx, "contacts", h.Contacts)
		return nil
	})
	g.Go(func() error {
		snap.chats = querySource(r, gctx, "chats", h.Chats)
		return nil
	})
	g.Go(func() error {
		addrs, perr := h.Presences(gctx)
		if perr != nil {
			r.sourceError("presences", perr)
			return nil
		}
		snap.presences = addrs
		return nil
	})
	_ = g.Wait()

	added := r.apply(snap)

	if err := r.persist(); err != nil {
		logging.Err(err).Str("component", "directory").Msg("failed to persist directory")
	}

	r.mu.RLock()
	total := len(r.entries)
	r.mu.RUnlock()
	logging.Info().
		Str("component", "directory").
		Int("added", added).
		Int("total", total).
		Msg("directory refreshed")
	return nil
}

// querySource runs one contact-shaped source query, converting errors
// into a skipped source.
func querySource[T any](r *Reconciler, ctx context.Context, name string, fn func(context.Context) ([]T, error)) []T {
	out, err := fn(ctx)
	if err != nil {
		r.sourceError(name, err)
		return nil
	}
	return out
}

func (r *Reconciler) sourceError(source string, err error) {
	metrics.DirectorySourceErrors.WithLabelValues(source).Inc()
	logging.Warn().
		Err(err).
		Str("component", "directory").
		Str("source", source).
		Msg("roster source unavailable, skipping")
}

// apply merges a snapshot in fixed priority order: groups, then
// contacts, then chats, then presences. Returns the number of new
// entries.
func (r *Reconciler) apply(snap rosterSnapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.entries)
	now := time.Now().UTC()

	for _, grp := range snap.groups {
		if grp.Address == "" {
			continue
		}
		r.groupAddrs[grp.Address] = grp.Address
		r.upsertLocked(grp.Address, grp.Subject, models.KindGroup, now, true)
	}
	for _, c := range snap.contacts {
		r.upsertAddressLocked(c.Address, c.Name, now)
	}
	for _, c := range snap.chats {
		r.upsertAddressLocked(c.Address, c.Name, now)
	}
	for _, addr := range snap.presences {
		r.upsertAddressLocked(addr, "", now)
	}

	if r.cfg.SeedPlaceholders {
		r.seedPlaceholdersLocked(now)
	}

	r.updateMetricsLocked()
	return len(r.entries) - before
}

// upsertAddressLocked routes a non-group roster record: known group
// addresses update the group entry, everything else becomes an
// individual keyed by the bare identifier.
func (r *Reconciler) upsertAddressLocked(address, name string, now time.Time) bool {
	if address == "" {
		return false
	}
	if gid, ok := r.groupAddrs[address]; ok {
		return r.upsertLocked(gid, name, models.KindGroup, now, false)
	}
	return r.upsertLocked(bareIdentifier(address), name, models.KindIndividual, now, false)
}

// upsertLocked inserts or updates one entry, reporting whether anything
// changed. Kind is immutable after first insert; display names only
// improve (authoritative sources may overwrite, others fill blanks).
func (r *Reconciler) upsertLocked(identifier, name string, kind models.ContactKind, now time.Time, authoritative bool) bool {
	if identifier == "" {
		return false
	}

	existing, ok := r.entries[identifier]
	if !ok {
		display := name
		if display == "" {
			display = identifier
		}
		r.entries[identifier] = models.DirectoryEntry{
			Identifier:   identifier,
			DisplayName:  display,
			Kind:         kind,
			DiscoveredAt: now,
		}
		return true
	}

	updated := existing
	if name != "" && (authoritative || updated.DisplayName == "" || updated.DisplayName == updated.Identifier) {
		updated.DisplayName = name
	}
	updated.Provisional = false
	if updated == existing {
		return false
	}
	r.entries[identifier] = updated
	return true
}

// Observe folds one inbound message's sender into the directory. Group
// senders are recorded as individuals; unknown group chats are left for
// the roster refresh to discover.
func (r *Reconciler) Observe(msg transport.Message) {
	if msg.FromSelf {
		return
	}
	sender := msg.SenderAddress()
	if sender == "" {
		return
	}

	r.mu.Lock()
	changed := false
	if _, isGroup := r.groupAddrs[sender]; !isGroup {
		changed = r.upsertLocked(bareIdentifier(sender), msg.PushName, models.KindIndividual, time.Now().UTC(), false)
	}
	if changed {
		r.updateMetricsLocked()
	}
	r.mu.Unlock()

	if !changed {
		return
	}
	if err := r.persist(); err != nil {
		logging.Err(err).Str("component", "directory").Msg("failed to persist directory")
	}
}

// placeholderSeeds are the provisional samples inserted when enabled and
// no real individuals exist.
var placeholderSeeds = []models.DirectoryEntry{
	{Identifier: "15550100001", DisplayName: "Sample Contact 1", Kind: models.KindIndividual, Provisional: true},
	{Identifier: "15550100002", DisplayName: "Sample Contact 2", Kind: models.KindIndividual, Provisional: true},
	{Identifier: "15550100003", DisplayName: "Sample Contact 3", Kind: models.KindIndividual, Provisional: true},
}

func (r *Reconciler) seedPlaceholdersLocked(now time.Time) {
	for _, e := range r.entries {
		if e.Kind == models.KindIndividual && !e.Provisional {
			return
		}
	}
	for _, seed := range placeholderSeeds {
		if _, ok := r.entries[seed.Identifier]; ok {
			continue
		}
		seed.DiscoveredAt = now
		r.entries[seed.Identifier] = seed
	}
}

// Entries returns all entries sorted by kind (groups first) then display
// name.
func (r *Reconciler) Entries() []models.DirectoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DirectoryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == models.KindGroup
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// Lookup returns the entry for an identifier.
func (r *Reconciler) Lookup(identifier string) (models.DirectoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identifier]
	return e, ok
}

// FindGroupByName returns the group whose display name matches,
// case-insensitively.
func (r *Reconciler) FindGroupByName(name string) (models.DirectoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Kind == models.KindGroup && strings.EqualFold(e.DisplayName, name) {
			return e, true
		}
	}
	return models.DirectoryEntry{}, false
}

func (r *Reconciler) persist() error {
	entries := r.Entries()
	return store.Save(r.filePath, entries)
}

func (r *Reconciler) updateMetrics() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.updateMetricsLocked()
}

func (r *Reconciler) updateMetricsLocked() {
	var groups, individuals float64
	for _, e := range r.entries {
		if e.Kind == models.KindGroup {
			groups++
		} else {
			individuals++
		}
	}
	metrics.DirectoryEntries.WithLabelValues(string(models.KindGroup)).Set(groups)
	metrics.DirectoryEntries.WithLabelValues(string(models.KindIndividual)).Set(individuals)
}

// bareIdentifier strips the transport routing suffix from an address,
// leaving the stable identifier ("92300@host" becomes "92300").
func bareIdentifier(address string) string {
	if i := strings.IndexByte(address, '@'); i >= 0 {
		return address[:i]
	}
	return address
}
