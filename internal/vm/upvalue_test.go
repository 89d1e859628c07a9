package vm

import (
	"testing"

	"zymvm/internal/value"
)

func TestCaptureUpvalueSharesSameSlot(t *testing.T) {
	m := New()
	m.stack[5] = value.Number(1)

	a := m.captureUpvalue(5)
	b := m.captureUpvalue(5)

	if a != b {
		t.Fatal("two captures of the same slot should return the same open upvalue")
	}
}

func TestCaptureUpvalueOrdersOpenListDescending(t *testing.T) {
	m := New()
	m.stack[3] = value.Number(3)
	m.stack[7] = value.Number(7)
	m.stack[1] = value.Number(1)

	m.captureUpvalue(3)
	m.captureUpvalue(7)
	m.captureUpvalue(1)

	var slots []int
	for u := m.openUpvalues; u != nil; u = u.Next {
		slots = append(slots, u.Slot)
	}
	want := []int{7, 3, 1}
	if len(slots) != len(want) {
		t.Fatalf("open list has %d entries, want %d", len(slots), len(want))
	}
	for i, s := range slots {
		if s != want[i] {
			t.Fatalf("open list order = %v, want %v", slots, want)
		}
	}
}

func TestCloseUpvaluesCopiesValueAndUnlinks(t *testing.T) {
	m := New()
	m.stack[4] = value.Number(42)
	u := m.captureUpvalue(4)

	m.closeUpvalues(4)

	if u.Open {
		t.Fatal("upvalue should be closed")
	}
	if u.Closed.Number != 42 {
		t.Fatalf("closed upvalue value = %v, want 42", u.Closed)
	}
	if m.openUpvalues != nil {
		t.Fatal("open list should be empty after closing the only entry")
	}

	// mutating the stack slot afterward must not affect the closed value.
	m.stack[4] = value.Number(99)
	if got := m.readUpvalue(u); got.Number != 42 {
		t.Fatalf("readUpvalue after stack mutation = %v, want unaffected 42", got)
	}
}

func TestCloseUpvaluesRespectsThreshold(t *testing.T) {
	m := New()
	m.stack[2] = value.Number(2)
	m.stack[8] = value.Number(8)
	low := m.captureUpvalue(2)
	high := m.captureUpvalue(8)

	m.closeUpvalues(5)

	if high.Open {
		t.Fatal("upvalue at slot 8 should be closed (>= threshold 5)")
	}
	if !low.Open {
		t.Fatal("upvalue at slot 2 should remain open (< threshold 5)")
	}
	if m.openUpvalues != low {
		t.Fatal("open list should retain only the below-threshold upvalue")
	}
}

func TestReadWriteUpvalue(t *testing.T) {
	m := New()
	m.stack[6] = value.Number(1)
	u := m.captureUpvalue(6)

	m.writeUpvalue(u, value.Number(7))
	if m.stack[6].Number != 7 {
		t.Fatal("writing an open upvalue should write through to its stack slot")
	}

	m.closeUpvalues(6)
	m.writeUpvalue(u, value.Number(11))
	if m.readUpvalue(u).Number != 11 {
		t.Fatal("writing a closed upvalue should update its owned value")
	}
}
