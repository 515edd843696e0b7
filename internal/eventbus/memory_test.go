package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DeliversMatchingEvents(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe("user-1", []Filter{{Type: "session.started"}})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "user-1", NewEvent("session.started", "sess-1", nil)))
	require.NoError(t, b.Publish(context.Background(), "user-1", NewEvent("session.idle", "sess-1", nil)))

	select {
	case e := <-sub.C:
		assert.Equal(t, "session.started", e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}

	select {
	case e := <-sub.C:
		t.Fatalf("unexpected second event delivered: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBus_DoesNotDeliverToOtherUsers(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe("user-1", nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "user-2", NewEvent("session.started", "sess-1", nil)))

	select {
	case e := <-sub.C:
		t.Fatalf("unexpected cross-user delivery: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBus_FullChannelDropsRatherThanBlocks(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe("user-1", nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.Publish(context.Background(), "user-1", NewEvent("x", "s", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestMemoryBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe("user-1", nil)
	require.NoError(t, err)

	sub.Unsubscribe()

	_, ok := <-sub.C
	assert.False(t, ok)
}
