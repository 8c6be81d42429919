// Package container implements spec.md §4.B: an index-addressable
// dynamic array (holes allowed), a generic hash map, and an idxset — a
// hash set keyed by monotonically-assigned indices stable for an
// object's lifetime.
package container

// DynArray maps unsigned indices to values with automatic growth; an
// absent index returns the zero value and ok=false.
type DynArray[T any] struct {
	slots []T
	set   []bool
}

func NewDynArray[T any]() *DynArray[T] {
	return &DynArray[T]{}
}

// Get returns the value at idx and whether it is present (vs. a hole).
func (d *DynArray[T]) Get(idx uint32) (T, bool) {
	var zero T
	if int(idx) >= len(d.slots) || !d.set[idx] {
		return zero, false
	}
	return d.slots[idx], true
}

// Put stores v at idx, growing the backing array as needed.
func (d *DynArray[T]) Put(idx uint32, v T) {
	d.ensure(idx)
	d.slots[idx] = v
	d.set[idx] = true
}

// Append stores v at the first free index (or the end) and returns it.
func (d *DynArray[T]) Append(v T) uint32 {
	for i, present := range d.set {
		if !present {
			d.slots[i] = v
			d.set[i] = true
			return uint32(i)
		}
	}
	idx := uint32(len(d.slots))
	d.ensure(idx)
	d.slots[idx] = v
	d.set[idx] = true
	return idx
}

// Remove punches a hole at idx, invoking destroy(v, arg) if destroy is
// non-nil and the slot was occupied.
func (d *DynArray[T]) Remove(idx uint32, destroy func(T, any), arg any) {
	if int(idx) >= len(d.slots) || !d.set[idx] {
		return
	}
	v := d.slots[idx]
	var zero T
	d.slots[idx] = zero
	d.set[idx] = false
	if destroy != nil {
		destroy(v, arg)
	}
}

func (d *DynArray[T]) ensure(idx uint32) {
	if int(idx) < len(d.slots) {
		return
	}
	newSlots := make([]T, idx+1)
	newSet := make([]bool, idx+1)
	copy(newSlots, d.slots)
	copy(newSet, d.set)
	d.slots = newSlots
	d.set = newSet
}

// Free releases all held values, calling destroy(v, arg) per occupied
// slot if destroy is non-nil.
func (d *DynArray[T]) Free(destroy func(T, any), arg any) {
	if destroy != nil {
		for i, present := range d.set {
			if present {
				destroy(d.slots[i], arg)
			}
		}
	}
	d.slots = nil
	d.set = nil
}

// Len returns the backing array's current span (including holes).
func (d *DynArray[T]) Len() int { return len(d.slots) }
