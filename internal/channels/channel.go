// Package channels delivers operator notifications about reminder activity
// to external messaging platforms.
package channels

import (
	"context"
)

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins delivering notifications. It should block until the
	// context is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}
