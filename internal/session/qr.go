// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/tomtom215/newsrelay/internal/store"
)

// QRImageRef is the dashboard-facing reference to the current QR image.
// The HTTP layer serves the PNG behind this path.
const QRImageRef = "/api/v1/qr/image"

const (
	qrImageFile = "qr.png"
	qrDataFile  = "qr-data.json"
	qrImageSize = 512
)

type qrRecord struct {
	Payload     string    `json:"payload"`
	GeneratedAt time.Time `json:"generated_at"`
}

// QRArtifacts renders pairing payloads into the on-disk artifacts the
// dashboard consumes: a PNG image and a JSON record of the raw payload.
type QRArtifacts struct {
	dir string
}

// NewQRArtifacts creates an artifact writer rooted at dataDir.
func NewQRArtifacts(dataDir string) *QRArtifacts {
	return &QRArtifacts{dir: dataDir}
}

// ImagePath returns the location of the rendered PNG.
func (q *QRArtifacts) ImagePath() string {
	return filepath.Join(q.dir, qrImageFile)
}

// Write renders payload as a PNG and records the raw payload alongside
// it. It returns the dashboard reference for the image.
func (q *QRArtifacts) Write(payload string) (string, error) {
	if err := os.MkdirAll(q.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create data dir %s: %w", q.dir, err)
	}
	if err := qrcode.WriteFile(payload, qrcode.Medium, qrImageSize, q.ImagePath()); err != nil {
		return "", fmt.Errorf("failed to render qr image: %w", err)
	}
	rec := qrRecord{Payload: payload, GeneratedAt: time.Now().UTC()}
	if err := store.Save(filepath.Join(q.dir, qrDataFile), rec); err != nil {
		return "", fmt.Errorf("failed to save qr record: %w", err)
	}
	return QRImageRef, nil
}

// Clear removes the artifacts. Stale QR images must not survive a
// successful pairing.
func (q *QRArtifacts) Clear() error {
	for _, name := range []string{qrImageFile, qrDataFile} {
		if err := os.Remove(filepath.Join(q.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
