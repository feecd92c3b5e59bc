package handler

import (
	"go.uber.org/zap"

	"github.com/gommo/server/internal/auth"
	"github.com/gommo/server/internal/game"
	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/world"
)

// HandleLogin processes C_Login. Ticket verification runs on its own
// goroutine; the session stays Connected until the callback promotes it
// to Authenticated.
func HandleLogin(sess *gnet.Session, r *packet.Reader, deps *Deps) {
	ticket := r.ReadS()
	commandID := int64(r.ReadQ())
	if r.Truncated() {
		deps.Log.Warn("malformed login packet", zap.Uint64("session", sess.ID))
		sess.Disconnect()
		return
	}

	if deps.Auth == nil {
		sess.Send(game.EncodeLoginFailure(auth.CodeUnavailable, "auth unavailable", commandID))
		return
	}

	deps.Auth.VerifyAsync(ticket, func(res auth.VerifyResult) {
		if sess.IsClosed() {
			return
		}
		if !res.Success {
			deps.Log.Info("login rejected",
				zap.Uint64("session", sess.ID),
				zap.Int32("code", res.ErrorCode),
				zap.String("reason", res.ErrorMessage))
			sess.Send(game.EncodeLoginFailure(res.ErrorCode, res.ErrorMessage, commandID))
			return
		}
		if !sess.SetPlayerID(res.Player.PlayerID) {
			deps.Log.Warn("duplicate login on session",
				zap.Uint64("session", sess.ID),
				zap.Uint64("player", res.Player.PlayerID))
			sess.Send(game.EncodeLoginFailure(auth.CodeOther, "session already authenticated", commandID))
			return
		}

		deps.Names.Set(res.Player.PlayerID, res.Player.Name)
		sess.SetState(packet.StateAuthenticated)
		sess.Send(game.EncodeLoginSuccess(
			res.Player.PlayerID,
			res.Player.Name,
			world.Vec2(res.Player.PosX, res.Player.PosY),
			res.Player.HP,
			res.Player.MaxHP,
			commandID,
		))
		deps.Log.Info("login ok",
			zap.Uint64("session", sess.ID),
			zap.Uint64("player", res.Player.PlayerID),
			zap.String("name", res.Player.Name))
	})
}
