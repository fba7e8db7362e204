// Package transport defines the interface for outbound mail relays.
package transport

import (
	"context"

	"github.com/shineum/mailform/internal/message"
)

// Transport hands assembled messages to a relay. Implementations classify
// their failures as apperr.KindTransportUnavailable when the relay could not
// be reached and apperr.KindTransportRejected when it refused the message.
type Transport interface {
	// Send delivers msg to every envelope recipient.
	Send(ctx context.Context, msg *message.Message) error

	// Ping reports whether the relay is reachable.
	Ping(ctx context.Context) error

	// Name returns the human-readable name of this transport.
	Name() string
}
