package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBroker adapts a NATS connection to the Broker interface.
type NATSBroker struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription

	log *zap.Logger
}

// ConnectNATS dials the broker with reconnect enabled so a broker
// restart does not take chat down with it.
func ConnectNATS(url string, log *zap.Logger) (*NATSBroker, error) {
	b := &NATSBroker{log: log}

	conn, err := nats.Connect(url,
		nats.Name("gommo-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("chat broker disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("chat broker reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect chat broker: %w", err)
	}

	b.conn = conn
	log.Info("chat broker connected", zap.String("url", conn.ConnectedUrl()))
	return b, nil
}

func (b *NATSBroker) Publish(channel, payload string) error {
	if err := b.conn.Publish(channel, []byte(payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(channel string, fn func(payload string)) error {
	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		fn(string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *NATSBroker) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn("chat unsubscribe failed", zap.Error(err))
		}
	}
	b.subs = nil
	b.mu.Unlock()

	// Drain flushes buffered publishes before closing.
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
