package game

import (
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/world"
)

// Encoder helpers build one outbound payload each. They draw writers
// from the shared pool and return a detached copy ready for framing.

func writePlayerInfo(w *packet.Writer, p *world.Player) {
	w.WriteQ(p.ID)
	w.WriteS(p.Name)
	w.WriteF(p.Pos.X)
	w.WriteF(p.Pos.Y)
	w.WriteF(p.Pos.Z)
	w.WriteD(p.HP)
	w.WriteD(p.MaxHP)
}

// EncodeLoginSuccess echoes the client's commandID so it can correlate
// the reply. The identity fields come from the auth service, not the
// world; the player may not exist yet.
func EncodeLoginSuccess(playerID uint64, name string, pos world.Vec3, hp, maxHP int32, commandID int64) []byte {
	w := packet.GetWriter(packet.IDSLoginSuccess)
	defer packet.PutWriter(w)
	w.WriteQ(playerID)
	w.WriteS(name)
	w.WriteF(pos.X)
	w.WriteF(pos.Y)
	w.WriteF(pos.Z)
	w.WriteD(hp)
	w.WriteD(maxHP)
	w.WriteQ(uint64(commandID))
	return w.Copy()
}

func EncodeLoginFailure(errorCode int32, message string, commandID int64) []byte {
	w := packet.GetWriter(packet.IDSLoginFailure)
	defer packet.PutWriter(w)
	w.WriteD(errorCode)
	w.WriteS(message)
	w.WriteQ(uint64(commandID))
	return w.Copy()
}

func EncodeZoneEntered(zoneID int32, self *world.Player, near []*world.Player) []byte {
	w := packet.GetWriter(packet.IDSZoneEntered)
	defer packet.PutWriter(w)
	w.WriteD(zoneID)
	writePlayerInfo(w, self)
	w.WriteH(uint16(len(near)))
	for _, p := range near {
		writePlayerInfo(w, p)
	}
	return w.Copy()
}

func EncodePlayerJoined(p *world.Player) []byte {
	w := packet.GetWriter(packet.IDSPlayerJoined)
	defer packet.PutWriter(w)
	writePlayerInfo(w, p)
	return w.Copy()
}

func EncodePlayerLeft(playerID uint64) []byte {
	w := packet.GetWriter(packet.IDSPlayerLeft)
	defer packet.PutWriter(w)
	w.WriteQ(playerID)
	return w.Copy()
}

func EncodeChat(playerID uint64, message string) []byte {
	w := packet.GetWriter(packet.IDSChat)
	defer packet.PutWriter(w)
	w.WriteQ(playerID)
	w.WriteS(message)
	return w.Copy()
}

// EncodeWorldSnapshot packs the visible state list for one observer.
// The trailing event list is reserved and always empty for now.
func EncodeWorldSnapshot(tick, serverTime uint64, states []*world.Player) []byte {
	w := packet.GetWriter(packet.IDSWorldSnapshot)
	defer packet.PutWriter(w)
	w.WriteQ(tick)
	w.WriteQ(serverTime)
	w.WriteH(uint16(len(states)))
	for _, p := range states {
		w.WriteQ(p.ID)
		w.WriteF(p.Pos.X)
		w.WriteF(p.Pos.Y)
		w.WriteF(p.Pos.Z)
		w.WriteF(p.Velocity.X)
		w.WriteF(p.Velocity.Y)
		w.WriteF(p.Velocity.Z)
		if p.Active {
			w.WriteC(1)
		} else {
			w.WriteC(0)
		}
	}
	w.WriteH(0)
	return w.Copy()
}
