package postgres

import "testing"

func TestMessageHash(t *testing.T) {
	h1 := MessageHash("evt_1", "loop_1", 1)
	h2 := MessageHash("evt_1", "loop_1", 1)
	if h1 != h2 {
		t.Error("message hash is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("expected a 64-hex digest, got %q", h1)
	}
	if MessageHash("evt_2", "loop_1", 1) == h1 {
		t.Error("different events should hash differently")
	}
	if MessageHash("evt_1", "loop_1", 2) == h1 {
		t.Error("different sequences should hash differently")
	}
}
