package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Emit(KindLoggedIn, "@self")

	evt := receive(t, ch)
	assert.Equal(t, KindLoggedIn, evt.Kind)
	assert.Equal(t, "@self", evt.Payload)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindStatusChanged, nil)
	b.Emit(KindMessageReceived, nil)

	assert.Equal(t, KindMessageReceived, receive(t, ch).Kind)

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Emit(KindStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindSendAck, "one")
	b.Emit(KindSendFailed, "two")

	evt := receive(t, ch)
	require.Equal(t, KindSendAck, evt.Kind)
	assert.Equal(t, "one", evt.Payload)
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Emit(KindLoggedOut, nil) })
}
