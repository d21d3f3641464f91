package status

import (
	"testing"

	"github.com/matheus3301/bubbled/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Syncing},
		{Syncing, Ready},
		{Syncing, Degraded},
		{Syncing, Offline},
		{Ready, Syncing},
		{Degraded, Syncing},
		{Offline, Syncing},
		{Ready, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(IDLE -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.status", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.TransitionWithDetail(Syncing, "sweep 1"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSyncStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSyncStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Syncing || change.Detail != "sweep 1" {
		t.Errorf("change = %+v", change)
	}
}

func TestSameStateIsSilent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.status", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("same-state transition: %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:     {},
		Syncing:  {Syncing},
		Ready:    {Syncing, Ready},
		Degraded: {Syncing, Degraded},
		Offline:  {Offline},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
