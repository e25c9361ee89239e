// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package session

import (
	"fmt"
	"os"

	"github.com/tomtom215/newsrelay/internal/transport"
)

// CredentialStore owns the opaque multi-file credential bundle on disk.
// The bundle's contents are transport-defined; the store only creates,
// locates, and erases the directory.
type CredentialStore struct {
	dir string
}

// NewCredentialStore creates a store rooted at dir. The directory is not
// created until Ensure is called.
func NewCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{dir: dir}
}

// Credentials returns the transport reference to the bundle.
func (s *CredentialStore) Credentials() transport.Credentials {
	return transport.Credentials{Dir: s.dir}
}

// Ensure creates the bundle directory if it does not exist.
func (s *CredentialStore) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir %s: %w", s.dir, err)
	}
	return nil
}

// HasState reports whether the bundle holds any persisted session files.
// An empty or missing bundle means the next connection starts
// unauthenticated and will issue a pairing QR.
func (s *CredentialStore) HasState() (bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read credential dir %s: %w", s.dir, err)
	}
	return len(entries) > 0, nil
}

// Erase removes the entire bundle and recreates an empty directory.
// Called after terminal logout so the next connection re-pairs instead of
// retrying invalidated credentials.
func (s *CredentialStore) Erase() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to erase credential dir %s: %w", s.dir, err)
	}
	return s.Ensure()
}
