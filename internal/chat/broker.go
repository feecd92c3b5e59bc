// Package chat routes player chat through an external pub/sub broker so
// multiple server instances share one chat plane.
package chat

// DefaultChannel is the broker channel chat lines travel on.
const DefaultChannel = "chat_channel"

// Publisher publishes raw chat lines. Implementations must be safe for
// concurrent use; ingress workers publish directly.
type Publisher interface {
	Publish(channel, payload string) error
}

// Broker is a Publisher with subscriptions and a lifecycle.
type Broker interface {
	Publisher

	// Subscribe registers fn for every message on channel. fn runs on a
	// broker-owned goroutine and must not block for long.
	Subscribe(channel string, fn func(payload string)) error

	Close()
}
