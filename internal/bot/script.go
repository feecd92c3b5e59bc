// Package bot implements the scripted load-test client: a raw TCP game
// client whose in-world behavior is decided by a Lua script.
package bot

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/gommo/server/internal/world"
)

// Script wraps a single gopher-lua VM deciding one bot's behavior.
// Each bot owns its own VM; single-goroutine access only (the input loop).
type Script struct {
	vm   *lua.LState
	log  *zap.Logger
	step int
}

// Action is one behavior decision: the input flags to hold, an optional
// chat line, and how many client ticks to keep the flags before the
// script is consulted again.
type Action struct {
	Flags uint8
	Chat  string
	Wait  int
}

// TickContext is the observed world state handed to the script.
type TickContext struct {
	Tick      uint64  // latest server tick seen in a snapshot
	X, Y      float32 // own position from the latest snapshot
	HP        int32
	Players   int    // entities in the latest snapshot
	Snapshots uint64 // snapshots received so far
}

// LoadScript creates a Lua VM and runs the behavior file. An empty path
// yields a VM with no decide() and the built-in wander takes over.
func LoadScript(path, botName string, log *zap.Logger) (*Script, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Input bit constants and the bot identity, for scripts.
	vm.SetGlobal("INPUT_W", lua.LNumber(world.InputW))
	vm.SetGlobal("INPUT_S", lua.LNumber(world.InputS))
	vm.SetGlobal("INPUT_A", lua.LNumber(world.InputA))
	vm.SetGlobal("INPUT_D", lua.LNumber(world.InputD))
	vm.SetGlobal("BOT_NAME", lua.LString(botName))

	s := &Script{vm: vm, log: log}
	if path != "" {
		if err := vm.DoFile(path); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug("loaded bot script", zap.String("file", path))
	}
	return s, nil
}

// wanderCycle is the built-in path when no decide() exists: walk a
// square, one side per decision.
var wanderCycle = [...]uint8{world.InputW, world.InputD, world.InputS, world.InputA}

const (
	wanderLegTicks  = 20
	wanderChatEvery = 30
)

// Decide calls the Lua decide(ctx) function. Bots without a script, or
// whose script does not define decide, fall back to the built-in wander.
func (s *Script) Decide(ctx TickContext) Action {
	s.step++

	fn := s.vm.GetGlobal("decide")
	if fn == lua.LNil {
		return s.wander()
	}

	t := s.vm.NewTable()
	t.RawSetString("tick", lua.LNumber(ctx.Tick))
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("y", lua.LNumber(ctx.Y))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("players", lua.LNumber(ctx.Players))
	t.RawSetString("snapshots", lua.LNumber(ctx.Snapshots))

	if err := s.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		s.log.Error("lua decide error", zap.Error(err))
		return s.wander()
	}

	result := s.vm.Get(-1)
	s.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		s.log.Error("lua decide returned non-table")
		return s.wander()
	}

	act := Action{
		Flags: uint8(lInt(rt, "flags")),
		Chat:  lStr(rt, "chat"),
		Wait:  lInt(rt, "wait"),
	}
	if act.Wait < 1 {
		act.Wait = 1
	}
	return act
}

func (s *Script) wander() Action {
	act := Action{
		Flags: wanderCycle[s.step%len(wanderCycle)],
		Wait:  wanderLegTicks,
	}
	if s.step%wanderChatEvery == 0 {
		act.Chat = fmt.Sprintf("checkpoint %d", s.step)
	}
	return act
}

// Close shuts down the Lua VM.
func (s *Script) Close() {
	s.vm.Close()
}

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}
