package executor

import (
	"testing"

	"go.uber.org/zap"
)

func TestAdmissionCapRespectsMultiplier(t *testing.T) {
	a := newAdmission(4, 2, zap.NewNop()) // cap = 8
	for i := 0; i < 8; i++ {
		if !a.increase(1, true) {
			t.Fatalf("expected increase %d to succeed under cap", i)
		}
	}
	if a.increase(1, true) {
		t.Fatal("expected the 9th increase to fail at the cap")
	}
}

func TestAdmissionDecreaseUnderflowPanics(t *testing.T) {
	a := newAdmission(4, 1, zap.NewNop())
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected decrease below zero to panic")
		}
	}()
	a.decrease(1)
}

func TestAdmissionMultiplierFloorsAtOne(t *testing.T) {
	a := newAdmission(4, 0, zap.NewNop())
	if a.cap() != 4 {
		t.Fatalf("expected multiplier to floor at 1 (cap=4), got %d", a.cap())
	}
}

func TestAdmissionIncreaseWithoutLimit(t *testing.T) {
	a := newAdmission(1, 1, zap.NewNop()) // cap = 1
	if !a.increase(100, false) {
		t.Fatal("expected unlimited increase to bypass the cap")
	}
	if a.open() != 100 {
		t.Fatalf("expected open=100, got %d", a.open())
	}
}
