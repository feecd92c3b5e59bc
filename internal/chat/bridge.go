package chat

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gommo/server/internal/game"
	gnet "github.com/gommo/server/internal/net"
)

// Bridge ties the broker's chat channel to connected sessions: every
// inbound "{playerId}|{text}" line fans out as an S_Chat packet to all
// registered sessions, including ones whose chat originated elsewhere.
type Bridge struct {
	broker   Broker
	sessions *gnet.Manager
	channel  string
	log      *zap.Logger
}

func NewBridge(broker Broker, sessions *gnet.Manager, channel string, log *zap.Logger) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bridge{
		broker:   broker,
		sessions: sessions,
		channel:  channel,
		log:      log,
	}
}

// Start subscribes the bridge. Called once at startup.
func (b *Bridge) Start() error {
	return b.broker.Subscribe(b.channel, b.onMessage)
}

func (b *Bridge) Channel() string {
	return b.channel
}

func (b *Bridge) onMessage(payload string) {
	idPart, text, ok := strings.Cut(payload, "|")
	if !ok {
		b.log.Warn("malformed chat line, dropping", zap.String("payload", payload))
		return
	}
	playerID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		b.log.Warn("malformed chat sender id, dropping", zap.String("payload", payload))
		return
	}

	frame := game.EncodeChat(playerID, text)
	b.sessions.ForEach(func(s *gnet.Session) {
		s.Send(frame)
	})
}
