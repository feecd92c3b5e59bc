package handler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
)

const maxChatRunes = 256

// HandleChat publishes C_Chat to the broker. The fan-out back to
// sessions happens in the chat bridge, so a message behaves the same
// whether its sender is on this instance or another one.
func HandleChat(sess *gnet.Session, r *packet.Reader, deps *Deps) {
	msg := r.ReadS()
	if r.Truncated() {
		deps.Log.Warn("malformed chat packet", zap.Uint64("session", sess.ID))
		return
	}

	msg = sanitizeChat(msg)
	if msg == "" || deps.Chat == nil {
		return
	}

	line := fmt.Sprintf("%d|%s", sess.PlayerID(), msg)
	if err := deps.Chat.Publish(deps.ChatChannel, line); err != nil {
		deps.Log.Error("chat publish failed",
			zap.Uint64("player", sess.PlayerID()),
			zap.Error(err))
	}
}

// sanitizeChat normalizes to NFC, strips control runes, trims
// whitespace, and caps the length.
func sanitizeChat(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxChatRunes {
		rs := []rune(s)
		s = string(rs[:maxChatRunes])
	}
	return s
}
