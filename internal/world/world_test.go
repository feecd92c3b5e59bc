package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorldAddReplaceRemove(t *testing.T) {
	w := NewWorld()

	p := NewPlayer(42, "alice", Vec2(10, 20), 5, 100)
	w.AddPlayer(p)
	require.Equal(t, 1, w.PlayerCount())
	require.Same(t, p, w.GetPlayer(42))

	// Same id replaces.
	p2 := NewPlayer(42, "alice", Vec2(30, 40), 5, 101)
	w.AddPlayer(p2)
	require.Equal(t, 1, w.PlayerCount())
	require.Same(t, p2, w.GetPlayer(42))

	w.RemovePlayer(42)
	require.Zero(t, w.PlayerCount())
	require.Nil(t, w.GetPlayer(42))
}

func TestWorldForEachPlayer(t *testing.T) {
	w := NewWorld()
	w.AddPlayer(NewPlayer(1, "a", Vec2(0, 0), 5, 1))
	w.AddPlayer(NewPlayer(2, "b", Vec2(0, 0), 5, 2))

	seen := map[uint64]bool{}
	w.ForEachPlayer(func(p *Player) { seen[p.ID] = true })
	require.Equal(t, map[uint64]bool{1: true, 2: true}, seen)
}

func TestPlayerInputRateLimit(t *testing.T) {
	p := NewPlayer(1, "a", Vec2(0, 0), 5, 1)
	now := time.Now()

	require.True(t, p.InputAllowed(now))
	p.ApplyInput(InputD, 1, Vec3{}, now)

	require.False(t, p.InputAllowed(now.Add(10*time.Millisecond)))
	require.False(t, p.InputAllowed(now.Add(32*time.Millisecond)))
	require.True(t, p.InputAllowed(now.Add(33*time.Millisecond)))
}

func TestPlayerApplyInputVelocity(t *testing.T) {
	p := NewPlayer(1, "a", Vec2(0, 0), 5, 1)
	now := time.Now()

	p.ApplyInput(InputD, 1, Vec3{}, now)
	require.Equal(t, Vec3{X: 5}, p.Velocity)
	require.Equal(t, uint32(1), p.LastInputSequence)

	// Opposing keys zero the velocity but still consume the sequence.
	p.ApplyInput(InputW|InputS, 2, Vec3{}, now.Add(time.Second))
	require.Equal(t, Vec3{}, p.Velocity)
	require.Equal(t, uint32(2), p.LastInputSequence)
}

func TestPlayerDeactivateReactivate(t *testing.T) {
	p := NewPlayer(1, "a", Vec2(10, 10), 5, 7)
	now := time.Now()
	p.ApplyInput(InputD, 9, Vec3{}, now)

	p.Deactivate(now)
	require.False(t, p.Active)
	require.Zero(t, p.LastInputSequence)
	require.Equal(t, Vec3{}, p.Velocity)
	require.Equal(t, now, p.DisconnectTime)

	p.Reactivate(8)
	require.True(t, p.Active)
	require.Equal(t, uint64(8), p.SessionID)
	require.True(t, p.DisconnectTime.IsZero())
	// Position survives the disconnect for the reconnect case.
	require.Equal(t, Vec2(10, 10), p.Pos)
}

func TestNewPlayerDefaults(t *testing.T) {
	p := NewPlayer(1, "a", Vec2(0, 0), 5, 1)
	require.Equal(t, int32(100), p.HP)
	require.Equal(t, int32(100), p.MaxHP)
	require.Equal(t, int32(50), p.MP)
	require.Equal(t, int32(50), p.MaxMP)
	require.True(t, p.Active)
}
