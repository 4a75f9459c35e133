// Package lockhier implements the process-wide lock-order checker (C2): a
// declared partial order over shared lock levels, checked at acquire time in
// debug builds and logged-but-allowed in release builds. It is a development
// aid for catching ordering regressions, not a substitute for disciplined
// lock design (it cannot stop a determined caller from deadlocking).
package lockhier

import (
	"fmt"

	"github.com/edgevision/aibox/internal/obslog"
)

// Level is a position in the declared lock order, low to high.
type Level int

const (
	PreviewPorts Level = iota
	RingBuffer
	AlarmQueue
	Pipeline
	CrossCamera
	TaskManager
)

func (l Level) String() string {
	switch l {
	case PreviewPorts:
		return "PREVIEW_PORTS"
	case RingBuffer:
		return "RING_BUFFER"
	case AlarmQueue:
		return "ALARM_QUEUE"
	case Pipeline:
		return "PIPELINE"
	case CrossCamera:
		return "CROSS_CAMERA"
	case TaskManager:
		return "TASK_MANAGER"
	default:
		return "UNKNOWN"
	}
}

// StrictMode aborts (panics) on an ordering violation instead of only
// logging it. Intended for CI/debug builds; left false in production.
var StrictMode = false

var log = obslog.New("lockhier")

// Chain tracks the levels currently held by one logical caller (one
// goroutine's call stack through the pipeline). It is not safe to share a
// Chain across goroutines — each owner thread should carry its own, mirroring
// how the source's per-thread lock stacks would work.
type Chain struct {
	held []Level
}

// NewChain returns an empty lock chain for one logical owner.
func NewChain() *Chain { return &Chain{} }

// Acquire records l as held by this chain, after checking it is not lower
// than (or equal to, re-entrant self-deadlock) the highest level already
// held. Returns a Token to pass to Release.
func (c *Chain) Acquire(l Level) *Token {
	if len(c.held) > 0 {
		top := c.held[len(c.held)-1]
		if l <= top {
			msg := fmt.Sprintf("lock order violation: acquiring %s while holding %s", l, top)
			if StrictMode {
				panic(msg)
			}
			log.Errorf("%s", msg)
		}
	}
	c.held = append(c.held, l)
	return &Token{chain: c, level: l}
}

// Token represents one held lock slot in a Chain.
type Token struct {
	chain *Chain
	level Level
}

// Release pops this token's level off its chain. Must be released in strict
// LIFO order relative to Acquire, matching real mutex unlock discipline.
func (t *Token) Release() {
	c := t.chain
	if len(c.held) == 0 {
		return
	}
	last := c.held[len(c.held)-1]
	if last != t.level {
		log.Errorf("lock released out of order: releasing %s, top of stack is %s", t.level, last)
	}
	c.held = c.held[:len(c.held)-1]
}
