// Package handler contains the packet handlers for the non-game packet
// family: login and chat. Game packets bypass handlers and become
// simulation commands in the ingress pool.
package handler

import (
	"go.uber.org/zap"

	"github.com/gommo/server/internal/auth"
	"github.com/gommo/server/internal/chat"
	"github.com/gommo/server/internal/game"
	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Auth        *auth.Client
	Chat        chat.Publisher
	ChatChannel string
	Names       *game.NameCache
	Log         *zap.Logger
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.IDCLogin,
		[]packet.SessionState{packet.StateConnected},
		func(sess any, r *packet.Reader) {
			HandleLogin(sess.(*gnet.Session), r, deps)
		},
	)

	reg.Register(packet.IDCChat,
		[]packet.SessionState{packet.StateInWorld},
		func(sess any, r *packet.Reader) {
			HandleChat(sess.(*gnet.Session), r, deps)
		},
	)
}
