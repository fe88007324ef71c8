package qpack

import "errors"

// ErrEntryTooLarge is returned when a single entry's size would exceed
// the table's entire capacity, meaning it can never be inserted, and also
// when making room (on Insert or SetCapacity) would require evicting an
// entry that still has outstanding references.
var ErrEntryTooLarge = errors.New("qpack: entry larger than table capacity")

// dynamicEntry is one FIFO slot of the dynamic table, tracked with its
// absolute insertion count and a reference count that blocks eviction
// while any in-flight field-section reference is outstanding.
type dynamicEntry struct {
	entry       Entry
	insertCount uint64
	refCount    int
}

// DynamicTable is the per-connection QPACK dynamic table (RFC 9204 §3.2):
// a FIFO of entries bounded by a byte capacity, with absolute and
// relative indexing and insertion-count bookkeeping for blocked-stream
// acknowledgment.
type DynamicTable struct {
	entries     []dynamicEntry // oldest first
	size        int
	capacity    int
	insertCount uint64
	dropCount   uint64
}

// NewDynamicTable returns an empty dynamic table with the given byte
// capacity.
func NewDynamicTable(capacity int) *DynamicTable {
	return &DynamicTable{capacity: capacity}
}

// Insert adds a new entry, evicting the oldest entries as needed to make
// room. Eviction stops (and Insert fails) if the oldest entry still has
// outstanding references, matching the original table's
// eviction-blocked-by-reference-count rule.
func (t *DynamicTable) Insert(e Entry) error {
	sz := e.Size()
	if sz > t.capacity {
		return ErrEntryTooLarge
	}
	for t.size+sz > t.capacity {
		if len(t.entries) == 0 || t.entries[0].refCount > 0 {
			return ErrEntryTooLarge
		}
		t.evictOldest()
	}
	t.entries = append(t.entries, dynamicEntry{entry: e, insertCount: t.insertCount})
	t.size += sz
	t.insertCount++
	return nil
}

func (t *DynamicTable) evictOldest() {
	t.size -= t.entries[0].entry.Size()
	t.entries = t.entries[1:]
	t.dropCount++
}

// absoluteIndexBase is the absolute index assigned to the oldest entry
// still resident in the table.
func (t *DynamicTable) absoluteIndexBase() uint64 {
	return t.dropCount
}

// Get returns the entry at absolute index idx, or false if it has been
// evicted or never existed.
func (t *DynamicTable) Get(idx uint64) (Entry, bool) {
	if idx < t.dropCount {
		return Entry{}, false
	}
	pos := idx - t.dropCount
	if pos >= uint64(len(t.entries)) {
		return Entry{}, false
	}
	return t.entries[pos].entry, true
}

// AbsoluteToRelative converts an absolute index to a relative index as
// encoded on the wire relative to the table's current insert count (RFC
// 9204 §3.2.5: relative index 0 is the most recently inserted entry).
func (t *DynamicTable) AbsoluteToRelative(idx uint64) (uint64, bool) {
	if idx < t.dropCount || idx >= t.insertCount {
		return 0, false
	}
	return t.insertCount - 1 - idx, true
}

// RelativeToAbsolute converts a relative index (0 = most recently
// inserted) back to an absolute index.
func (t *DynamicTable) RelativeToAbsolute(rel uint64) (uint64, bool) {
	if rel >= t.insertCount-t.dropCount {
		return 0, false
	}
	return t.insertCount - 1 - rel, true
}

// FindExact returns the absolute index of an exact name/value match, or
// false.
func (t *DynamicTable) FindExact(name, value string) (uint64, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].entry.Name == name && t.entries[i].entry.Value == value {
			return t.dropCount + uint64(i), true
		}
	}
	return 0, false
}

// FindName returns the absolute index of the most recently inserted entry
// whose name matches, or false.
func (t *DynamicTable) FindName(name string) (uint64, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].entry.Name == name {
			return t.dropCount + uint64(i), true
		}
	}
	return 0, false
}

// SetCapacity changes the table's byte capacity, evicting entries as
// needed to fit within a reduced capacity.
func (t *DynamicTable) SetCapacity(capacity int) error {
	t.capacity = capacity
	for t.size > t.capacity {
		if len(t.entries) == 0 || t.entries[0].refCount > 0 {
			return ErrEntryTooLarge
		}
		t.evictOldest()
	}
	return nil
}

// IncrementReference marks one additional in-flight reference to the
// entry at absolute index idx, blocking its eviction.
func (t *DynamicTable) IncrementReference(idx uint64) {
	if idx < t.dropCount {
		return
	}
	pos := idx - t.dropCount
	if pos < uint64(len(t.entries)) {
		t.entries[pos].refCount++
	}
}

// DecrementReference releases one in-flight reference to the entry at
// absolute index idx.
func (t *DynamicTable) DecrementReference(idx uint64) {
	if idx < t.dropCount {
		return
	}
	pos := idx - t.dropCount
	if pos < uint64(len(t.entries)) && t.entries[pos].refCount > 0 {
		t.entries[pos].refCount--
	}
}

// AcknowledgeInsert lowers the reference count attributable to a decoder
// acknowledgment: every entry inserted before acknowledgedCount had its
// encoder-side provisional reference released.
func (t *DynamicTable) AcknowledgeInsert(acknowledgedCount uint64) {
	for i := range t.entries {
		if t.entries[i].insertCount < acknowledgedCount && t.entries[i].refCount > 0 {
			t.entries[i].refCount--
		}
	}
}

// Size returns the table's current byte usage.
func (t *DynamicTable) Size() int { return t.size }

// Capacity returns the table's configured byte capacity.
func (t *DynamicTable) Capacity() int { return t.capacity }

// Count returns the number of entries currently resident.
func (t *DynamicTable) Count() int { return len(t.entries) }

// InsertCount returns the total number of entries ever inserted.
func (t *DynamicTable) InsertCount() uint64 { return t.insertCount }

// DropCount returns the total number of entries ever evicted or cleared,
// which is also the absolute index of the oldest resident entry.
func (t *DynamicTable) DropCount() uint64 { return t.dropCount }

// Clear empties the table.
func (t *DynamicTable) Clear() {
	t.entries = nil
	t.size = 0
	t.dropCount = t.insertCount
}
