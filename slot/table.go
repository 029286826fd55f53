package slot

// Table is the per-device array of Slot metadata, one entry per logical page. It is sized
// once at configure time and never grows or shrinks for the life of the device.
type Table struct {
	slots    []Slot
	pageSize int
}

// NewTable allocates a table of nr slots, each describing a pageSize-byte logical page.
func NewTable(nr int, pageSize int) *Table {
	return &Table{
		slots:    make([]Slot, nr),
		pageSize: pageSize,
	}
}

// Len returns the number of slots, i.e. disk_size / PAGE_SIZE.
func (t *Table) Len() int {
	return len(t.slots)
}

// PageSize returns the fixed logical page size every slot describes.
func (t *Table) PageSize() int {
	return t.pageSize
}

// Slot returns the slot for logical page index i. Callers must Lock it before touching
// anything but its identity.
func (t *Table) Slot(i int) *Slot {
	return &t.slots[i]
}

// Reset clears every slot back to empty, for device reset. The caller must guarantee no
// I/O is in flight (e.g. by holding the device's init_lock for write).
func (t *Table) Reset() {
	for i := range t.slots {
		t.slots[i] = Slot{}
	}
}

// Allocated counts slots currently holding a payload. It does not lock; callers that need
// an exact snapshot under concurrent writers should treat the result as approximate.
func (t *Table) Allocated() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].Allocated() {
			n++
		}
	}
	return n
}
