package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected                // transport up, awaiting login
	StateAuthenticated            // ticket verified, not yet in the world
	StateInWorld                  // playing
	StateDisconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateAuthenticated:
		return "Authenticated"
	case StateInWorld:
		return "InWorld"
	case StateDisconnecting:
		return "Disconnecting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// HandlerFunc is the callback signature for packet handlers. The session
// pointer is passed as an opaque interface to avoid import cycles;
// handlers cast it back.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps packet ids to handlers with state-based access control.
// Handlers run on ingress worker goroutines; a panicking handler is
// recovered so one bad packet cannot take a worker down.
type Registry struct {
	handlers map[ID]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[ID]*handlerEntry),
		log:      log,
	}
}

// Register maps an id to a handler, restricted to the given session states.
func (reg *Registry) Register(id ID, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[id] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the payload's id, validates the session
// state, and calls the handler. Unknown ids are logged and dropped.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("short packet: %d bytes", len(data))
	}
	id := PeekID(data)
	reg.log.Debug("packet received",
		zap.Stringer("id", id),
		zap.Int("size", len(data)),
		zap.Stringer("state", state),
	)

	entry, ok := reg.handlers[id]
	if !ok {
		reg.log.Warn("no handler registered", zap.Stringer("id", id), zap.Stringer("state", state))
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("packet not allowed in state",
			zap.Stringer("id", id),
			zap.Stringer("state", state),
		)
		return fmt.Errorf("packet %s not allowed in state %s", id, state)
	}

	return reg.safeCall(entry.fn, sess, NewReader(data), id)
}

// safeCall executes a handler with panic recovery.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, id ID) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Stringer("id", id),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for packet %s: %v", id, rec)
		}
	}()
	fn(sess, r)
	return nil
}
