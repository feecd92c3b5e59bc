// Package world holds the simulation-owned game state: the player table,
// the quadtree spatial index, and the AOI visibility cache. Everything in
// this package is owned by the simulation goroutine; there is no locking
// here on purpose. External code never touches these types directly, it
// submits commands instead.
package world

// World is the player table, keyed by the auth-assigned player id.
type World struct {
	players map[uint64]*Player
}

func NewWorld() *World {
	return &World{players: make(map[uint64]*Player)}
}

// AddPlayer inserts p, replacing any existing entry with the same id.
func (w *World) AddPlayer(p *Player) {
	w.players[p.ID] = p
}

func (w *World) RemovePlayer(id uint64) {
	delete(w.players, id)
}

// GetPlayer returns nil when the id is unknown.
func (w *World) GetPlayer(id uint64) *Player {
	return w.players[id]
}

func (w *World) PlayerCount() int {
	return len(w.players)
}

// ForEachPlayer calls fn for every player, active or not. fn must not add
// or remove players.
func (w *World) ForEachPlayer(fn func(*Player)) {
	for _, p := range w.players {
		fn(p)
	}
}

// Update runs each player's per-tick hook.
func (w *World) Update(dt float32) {
	for _, p := range w.players {
		p.Update(dt)
	}
}
