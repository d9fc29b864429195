package trigger

import "testing"

func TestStateMachine(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateNew, StateArmed, true},
		{StateNew, StateFailed, true},
		{StateNew, StateDisarmed, false},
		{StateArmed, StateArmed, true}, // fire / renew self-loop
		{StateArmed, StateDisarmed, true},
		{StateDisarmed, StateArmed, true},
		{StateFailed, StateArmed, true}, // explicit re-arm
		{StateFailed, StateDisarmed, false},
		{StateDisarmed, StateFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestRegistrationSetState(t *testing.T) {
	reg := &Registration{State: StateNew}

	if err := reg.SetState(StateArmed); err != nil {
		t.Fatalf("SetState(armed) error = %v", err)
	}
	if !reg.Accepting() {
		t.Error("armed registration must accept events")
	}

	if err := reg.SetState(StateDisarmed); err != nil {
		t.Fatalf("SetState(disarmed) error = %v", err)
	}
	if reg.Accepting() {
		t.Error("disarmed registration must not accept events")
	}

	if err := reg.SetState(StateFailed); err == nil {
		t.Error("disarmed -> failed must be rejected")
	}
}

func TestTokenAdvances(t *testing.T) {
	tests := []struct {
		current, next string
		want          bool
	}{
		{"", "100", true},
		{"100", "101", true},
		{"101", "100", false},
		{"100", "100", false},
		{"1714000000.000100", "1714000000.000200", true}, // slack ts
		{"etag-a", "etag-b", true},                       // opaque etags compare by inequality
		{"etag-a", "etag-a", false},
	}

	for _, tt := range tests {
		if got := tokenAdvances(tt.current, tt.next); got != tt.want {
			t.Errorf("tokenAdvances(%q, %q) = %v, want %v", tt.current, tt.next, got, tt.want)
		}
	}
}
