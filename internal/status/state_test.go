package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/wxweb/internal/bus"
)

func TestInitialState(t *testing.T) {
	assert.Equal(t, Idle, NewMachine(nil).Current())
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, AwaitingQR},
		{Idle, PollingScan},
		{Idle, Bootstrapped},
		{AwaitingQR, PollingScan},
		{PollingScan, Confirmed},
		{PollingScan, AwaitingQR},
		{Confirmed, Bootstrapped},
		{Bootstrapped, LoggedOut},
		{LoggedOut, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			require.NoError(t, m.Transition(tt.to))
			assert.Equal(t, tt.to, m.Current())
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	require.Error(t, m.Transition(Confirmed))
	assert.Equal(t, Idle, m.Current())
}

// A scan cannot skip confirmation and land in Bootstrapped.
func TestPollingCannotSkipConfirmation(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, PollingScan)
	require.Error(t, m.Transition(Bootstrapped))
	assert.Equal(t, PollingScan, m.Current())
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	require.NoError(t, m.Transition(AwaitingQR))

	evt := <-ch
	assert.Equal(t, bus.KindStatusChanged, evt.Kind)
	change, ok := evt.Payload.(StatusChange)
	require.True(t, ok, "payload type = %T", evt.Payload)
	assert.Equal(t, StatusChange{From: Idle, To: AwaitingQR}, change)
}

func TestQRLoginLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{AwaitingQR, PollingScan, AwaitingQR, PollingScan, Confirmed, Bootstrapped, LoggedOut, Idle} {
		require.NoError(t, m.Transition(s), "transition to %s from %s", s, m.Current())
	}
}

func TestReset(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Confirmed)
	m.Reset()
	assert.Equal(t, Idle, m.Current())

	m.Reset()
	assert.Equal(t, Idle, m.Current())
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		AwaitingQR:   {AwaitingQR},
		PollingScan:  {AwaitingQR, PollingScan},
		Confirmed:    {AwaitingQR, PollingScan, Confirmed},
		Bootstrapped: {AwaitingQR, PollingScan, Confirmed, Bootstrapped},
		LoggedOut:    {LoggedOut},
	}
	for _, s := range paths[target] {
		require.NoError(t, m.Transition(s), "walkTo(%s)", target)
	}
}
