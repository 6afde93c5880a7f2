package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	if err := Guard(nil, "stake"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	set := NewPauseSet(" Stake ")
	if err := Guard(set, "stake"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	set.Set("stake", false)
	if err := Guard(set, "stake"); err != nil {
		t.Fatalf("unexpected error after unpause: %v", err)
	}
	if err := Guard(set, ""); err != nil {
		t.Fatalf("empty module must not block: %v", err)
	}
}
