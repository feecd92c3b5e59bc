package world

import "time"

// minInputInterval is the per-player input rate limit. Inputs arriving
// closer together than this are dropped.
const minInputInterval = 33 * time.Millisecond

// Player is the simulation's view of one user. Players are created by an
// EnterZone command and mutated only by the simulation goroutine; no locks.
type Player struct {
	ID   uint64
	Name string

	// SessionID points back at the transport session currently driving
	// this player. It changes on reconnect.
	SessionID uint64

	Pos      Vec3
	Velocity Vec3

	HP    int32
	MaxHP int32
	MP    int32
	MaxMP int32

	InputFlags        uint8
	MousePos          Vec3
	LastInputSequence uint32
	LastInputTime     time.Time

	MoveSpeed float32

	// Active is false between disconnect and reconnect. Inactive players
	// stay out of the spatial index and receive no snapshots.
	Active         bool
	DisconnectTime time.Time
}

// NewPlayer returns a freshly spawned, active player at pos.
func NewPlayer(id uint64, name string, pos Vec3, moveSpeed float32, sessionID uint64) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		SessionID: sessionID,
		Pos:       pos,
		HP:        100,
		MaxHP:     100,
		MP:        50,
		MaxMP:     50,
		MoveSpeed: moveSpeed,
		Active:    true,
	}
}

// InputAllowed applies the per-player rate limit.
func (p *Player) InputAllowed(now time.Time) bool {
	return now.Sub(p.LastInputTime) >= minInputInterval
}

// ApplyInput accepts a new input sample and recomputes velocity. The caller
// has already validated rate and sequence.
func (p *Player) ApplyInput(flags uint8, seq uint32, mouse Vec3, now time.Time) {
	p.InputFlags = flags
	p.MousePos = mouse
	p.LastInputSequence = seq
	p.LastInputTime = now
	p.Velocity = DirectionFromFlags(flags).Scale(p.MoveSpeed)
}

// Deactivate soft-removes the player on disconnect. The input sequence
// resets so a reconnecting client can restart its counter from 1.
func (p *Player) Deactivate(now time.Time) {
	p.Active = false
	p.InputFlags = 0
	p.Velocity = Vec3{}
	p.LastInputSequence = 0
	p.DisconnectTime = now
}

// Reactivate re-binds a reconnecting player to a new session at its stored
// position.
func (p *Player) Reactivate(sessionID uint64) {
	p.Active = true
	p.SessionID = sessionID
	p.DisconnectTime = time.Time{}
}

// Update is the per-tick hook. Position integration happens in the
// simulation so it can consult map bounds; nothing per-player yet.
func (p *Player) Update(dt float32) {
	_ = dt
}
