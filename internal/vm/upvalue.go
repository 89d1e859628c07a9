package vm

import "zymvm/internal/value"

// captureUpvalue returns the open upvalue for absolute stack slot, reusing
// an existing one if a prior CLOSURE already captured the same slot (so
// two closures over the same local share mutations, per §4.4). The open
// list is kept ordered by descending slot so close() can stop early.
func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	var prev *value.Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.Slot > slot {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Slot == slot {
		return cur
	}

	created := &value.Upvalue{Open: true, Slot: slot}
	vm.registerObject(created, 40)
	created.Next = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue addressing a slot at or above
// threshold, copying the stack value into the upvalue itself so it
// survives the frame's slots being reused or shrunk away (§4.4, run on
// RET and on scope exit past a captured local).
func (vm *VM) closeUpvalues(threshold int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= threshold {
		u := vm.openUpvalues
		u.Closed = vm.stack[u.Slot]
		u.Open = false
		vm.openUpvalues = u.Next
		u.Next = nil
	}
}

// readUpvalue and writeUpvalue hide whether u is still open (indexing
// live into the stack) or closed (owning its own Value) from callers.
func (vm *VM) readUpvalue(u *value.Upvalue) value.Value {
	if u.Open {
		return vm.stack[u.Slot]
	}
	return u.Closed
}

func (vm *VM) writeUpvalue(u *value.Upvalue, v value.Value) {
	if u.Open {
		vm.stack[u.Slot] = v
		return
	}
	u.Closed = v
}
