package storage

import (
	"context"
	"errors"
)

// ErrNotFound wird geliefert wenn ein Schlüssel nicht existiert
var ErrNotFound = errors.New("key not found")

// Store ist der persistente Blob-Speicher. Feeder-Konfigurationen und die
// UUID-Tabelle des Managers liegen als rohe Blobs unter Textschlüsseln.
type Store interface {
	// Get liefert den Blob zu key, ErrNotFound wenn keiner existiert
	Get(ctx context.Context, key string) ([]byte, error)

	// Put legt den Blob ab oder überschreibt ihn
	Put(ctx context.Context, key string, value []byte) error

	// Delete entfernt den Schlüssel, fehlende Schlüssel sind kein Fehler
	Delete(ctx context.Context, key string) error

	// Keys listet alle Schlüssel mit dem Präfix
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
