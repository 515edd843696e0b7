package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, correlationID string) *Frame {
	t.Helper()
	f, err := NewFrame(FramePrompt, correlationID, PromptPayload{MessageID: correlationID, Content: correlationID})
	require.NoError(t, err)
	return f
}

func TestOutbox_SeenAndHighWater(t *testing.T) {
	o := NewOutbox(4)
	assert.False(t, o.Seen("a"))

	o.Record(mustFrame(t, "a"))
	o.Record(mustFrame(t, "b"))

	assert.True(t, o.Seen("a"))
	assert.True(t, o.Seen("b"))
	assert.Equal(t, "b", o.HighWater())
}

// TestOutbox_EvictsOldestAtCapacity confirms the ring buffer drops the
// oldest frame (and its dedup entry) once full.
func TestOutbox_EvictsOldestAtCapacity(t *testing.T) {
	o := NewOutbox(2)
	o.Record(mustFrame(t, "a"))
	o.Record(mustFrame(t, "b"))
	o.Record(mustFrame(t, "c"))

	assert.False(t, o.Seen("a"))
	assert.True(t, o.Seen("b"))
	assert.True(t, o.Seen("c"))
}

// TestOutbox_SinceReturnsTailAfterAck confirms a reconnecting Runner gets
// exactly the frames written after its last acknowledged correlation id.
func TestOutbox_SinceReturnsTailAfterAck(t *testing.T) {
	o := NewOutbox(10)
	o.Record(mustFrame(t, "a"))
	o.Record(mustFrame(t, "b"))
	o.Record(mustFrame(t, "c"))

	tail := o.Since("a")
	require.Len(t, tail, 2)
	assert.Equal(t, "b", tail[0].ID())
	assert.Equal(t, "c", tail[1].ID())
}

func TestOutbox_SinceUnknownIDReturnsEverythingRetained(t *testing.T) {
	o := NewOutbox(10)
	o.Record(mustFrame(t, "a"))
	o.Record(mustFrame(t, "b"))

	tail := o.Since("never-seen")
	assert.Len(t, tail, 2)
}

func TestOutbox_SinceEmptyAckReturnsEverything(t *testing.T) {
	o := NewOutbox(10)
	o.Record(mustFrame(t, "a"))

	tail := o.Since("")
	assert.Len(t, tail, 1)
}
