// Package game carries the pieces that sit between the network layer
// and the simulation: the command model, the command queue, the ingress
// worker pool, and small shared caches.
package game

import (
	"time"

	"github.com/gommo/server/internal/world"
)

// CommandKind discriminates the command payload.
type CommandKind uint8

const (
	CommandNone CommandKind = iota
	CommandPlayerInput
	CommandEnterZone
	CommandPlayerDisconnect
)

func (k CommandKind) String() string {
	switch k {
	case CommandNone:
		return "None"
	case CommandPlayerInput:
		return "PlayerInput"
	case CommandEnterZone:
		return "EnterZone"
	case CommandPlayerDisconnect:
		return "PlayerDisconnect"
	default:
		return "Unknown"
	}
}

// Command is one unit of work for the simulation goroutine. Producers
// are ingress workers and the session teardown path; the simulation is
// the only consumer. The zero value doubles as the shutdown sentinel a
// drained queue returns after Shutdown.
type Command struct {
	Kind            CommandKind
	CommandID       int64
	SenderSessionID uint64
	Timestamp       uint64 // unix ms at enqueue

	PlayerID uint64

	// PlayerInput payload
	InputFlags     uint8
	SequenceNumber uint32
	Mouse          world.Vec3

	// EnterZone payload
	ZoneID int32
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

func NewPlayerInputCommand(playerID, sessionID uint64, flags uint8, seq uint32, mouse world.Vec3) Command {
	return Command{
		Kind:            CommandPlayerInput,
		SenderSessionID: sessionID,
		Timestamp:       nowMillis(),
		PlayerID:        playerID,
		InputFlags:      flags,
		SequenceNumber:  seq,
		Mouse:           mouse,
	}
}

func NewEnterZoneCommand(playerID uint64, zoneID int32, sessionID uint64, commandID int64) Command {
	return Command{
		Kind:            CommandEnterZone,
		CommandID:       commandID,
		SenderSessionID: sessionID,
		Timestamp:       nowMillis(),
		PlayerID:        playerID,
		ZoneID:          zoneID,
	}
}

func NewPlayerDisconnectCommand(playerID, sessionID uint64) Command {
	return Command{
		Kind:            CommandPlayerDisconnect,
		SenderSessionID: sessionID,
		Timestamp:       nowMillis(),
		PlayerID:        playerID,
	}
}
