package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	line := []byte("level=INFO msg=hello\n")
	n, err := b.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	// The caller may reuse its buffer.
	line[0] = 'X'
	assert.Equal(t, "level=INFO msg=hello\n", string(<-first))
	assert.Equal(t, "level=INFO msg=hello\n", string(<-second))
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		_, err := b.Write([]byte("x"))
		require.NoError(t, err)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("WARN").String())
	assert.Equal(t, "ERROR", ParseLevel("error").String())
	assert.Equal(t, "INFO", ParseLevel("verbose").String())
}
