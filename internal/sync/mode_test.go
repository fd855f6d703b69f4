package sync

import "testing"

func TestResolve_AllCombinations(t *testing.T) {
	cases := []struct {
		push, pull, strict bool
		want               Modes
	}{
		{false, false, false, Modes{Push: false, Pull: false}},
		{false, false, true, Modes{Push: false, Pull: false}},
		{false, true, false, Modes{Push: false, Pull: true}},
		{false, true, true, Modes{Push: false, Pull: true}},
		{true, false, false, Modes{Push: true, Pull: false}},
		{true, false, true, Modes{Push: true, Pull: false}},
		{true, true, false, Modes{Push: true, Pull: true}},
		// Strict mode with pull enabled forces push off.
		{true, true, true, Modes{Push: false, Pull: true}},
	}

	for _, tc := range cases {
		got := Resolve(tc.push, tc.pull, tc.strict)
		if got != tc.want {
			t.Errorf("Resolve(push=%v, pull=%v, strict=%v) = %+v, want %+v",
				tc.push, tc.pull, tc.strict, got, tc.want)
		}
	}
}

func TestResolve_IsDeterministic(t *testing.T) {
	first := Resolve(true, true, true)
	for i := 0; i < 10; i++ {
		if got := Resolve(true, true, true); got != first {
			t.Fatalf("Resolve returned %+v on call %d, want %+v", got, i, first)
		}
	}
}
