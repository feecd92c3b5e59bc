package game

import (
	"sync"

	"go.uber.org/zap"
)

// CommandQueue is the MPMC FIFO feeding the simulation. Producers call
// Push from ingress workers and session teardown; the simulation drains
// with TryPop each tick. Pop blocks and is used where a consumer has
// nothing else to do.
//
// After Shutdown, Push becomes a warning no-op and Pop returns the zero
// Command once the backlog is drained.
type CommandQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Command
	head     int
	shutdown bool

	log *zap.Logger
}

func NewCommandQueue(log *zap.Logger) *CommandQueue {
	q := &CommandQueue{log: log}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *CommandQueue) Push(cmd Command) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		q.log.Warn("command pushed after queue shutdown, dropping",
			zap.String("kind", cmd.Kind.String()),
			zap.Uint64("player", cmd.PlayerID))
		return
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.cond.Signal()
}

// PushPlayerDisconnect lets the network layer report a dead
// authenticated session without knowing the command model.
func (q *CommandQueue) PushPlayerDisconnect(playerID, sessionID uint64) {
	q.Push(NewPlayerDisconnectCommand(playerID, sessionID))
}

// Pop blocks until a command is available or the queue is shut down.
// The backlog is drained before the shutdown sentinel appears.
func (q *CommandQueue) Pop() Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) && !q.shutdown {
		q.cond.Wait()
	}
	if q.head < len(q.items) {
		return q.popLocked()
	}
	return Command{}
}

// TryPop returns the next command without blocking.
func (q *CommandQueue) TryPop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return Command{}, false
	}
	return q.popLocked(), true
}

func (q *CommandQueue) popLocked() Command {
	cmd := q.items[q.head]
	q.items[q.head] = Command{}
	q.head++

	// Reclaim the consumed prefix once it dominates the slice.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return cmd
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Shutdown wakes every blocked consumer. Idempotent.
func (q *CommandQueue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *CommandQueue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}
