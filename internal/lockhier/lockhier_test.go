package lockhier

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/edgevision/aibox/internal/obslog"
	"github.com/stretchr/testify/assert"
)

func TestInOrderAcquireIsSilent(t *testing.T) {
	var buf bytes.Buffer
	obslog.SetOutput(&buf)
	defer obslog.SetOutput(os.Stderr)

	c := NewChain()
	t1 := c.Acquire(PreviewPorts)
	t2 := c.Acquire(RingBuffer)
	t3 := c.Acquire(TaskManager)
	t3.Release()
	t2.Release()
	t1.Release()

	assert.Empty(t, buf.String())
}

func TestOutOfOrderAcquireIsLogged(t *testing.T) {
	var buf bytes.Buffer
	obslog.SetOutput(&buf)
	defer obslog.SetOutput(os.Stderr)

	c := NewChain()
	t1 := c.Acquire(TaskManager)
	t2 := c.Acquire(PreviewPorts) // violates declared order
	t2.Release()
	t1.Release()

	assert.True(t, strings.Contains(buf.String(), "lock order violation"))
}

func TestStrictModePanics(t *testing.T) {
	StrictMode = true
	defer func() { StrictMode = false }()

	c := NewChain()
	c.Acquire(TaskManager)

	assert.Panics(t, func() {
		c.Acquire(PreviewPorts)
	})
}
