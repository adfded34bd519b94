package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func received(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	case <-time.After(10 * time.Millisecond):
		return false
	}
}

func TestNotify(t *testing.T) {
	const sig Signal = "test-notify"
	c, cancel := Listen(sig)
	defer cancel()

	Notify(sig)
	Notify(sig) // coalesced with the pending one
	assert.True(t, received(c))
	assert.False(t, received(c))
}

func TestListen_Cancel(t *testing.T) {
	const sig Signal = "test-cancel"
	a, cancelA := Listen(sig)
	b, cancelB := Listen(sig)
	defer cancelB()

	cancelA()
	Notify(sig)
	assert.False(t, received(a))
	assert.True(t, received(b))
}

func TestNotify_NoListeners(t *testing.T) {
	Notify("nobody-listens")
}
