package chat

import (
	"errors"
	"sync"
)

// ErrBrokerClosed reports a publish after Close.
var ErrBrokerClosed = errors.New("chat broker closed")

type loopbackMsg struct {
	channel string
	payload string
}

// Loopback is an in-process Broker for single-instance deployments and
// tests. Delivery is asynchronous through a dispatcher goroutine, which
// matches how a real broker behaves: Publish returns before subscribers
// run, and per-channel ordering is preserved.
type Loopback struct {
	mu     sync.Mutex
	subs   map[string][]func(string)
	closed bool

	msgs chan loopbackMsg
	done chan struct{}
}

func NewLoopback() *Loopback {
	b := &Loopback{
		subs: make(map[string][]func(string)),
		msgs: make(chan loopbackMsg, 256),
		done: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Loopback) Publish(channel, payload string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	select {
	case b.msgs <- loopbackMsg{channel: channel, payload: payload}:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	}
}

func (b *Loopback) Subscribe(channel string, fn func(payload string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.subs[channel] = append(b.subs[channel], fn)
	return nil
}

func (b *Loopback) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}

func (b *Loopback) dispatch() {
	for {
		select {
		case m := <-b.msgs:
			b.mu.Lock()
			fns := append(([]func(string))(nil), b.subs[m.channel]...)
			b.mu.Unlock()
			for _, fn := range fns {
				fn(m.payload)
			}
		case <-b.done:
			return
		}
	}
}
