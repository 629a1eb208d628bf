package endoscope

import (
	"bytes"
)

// InsertResult tells the caller what Insert did with a fragment.
type InsertResult int

const (
	InsertStored InsertResult = iota
	// InsertDuplicate means the part index was already present and its payload was overwritten.
	InsertDuplicate
	// InsertRejected means the part index lies beyond the frame's declared part count.
	InsertRejected
	// InsertEmitted means the frame was already handed out and the fragment was ignored.
	InsertEmitted
)

type frameEntry struct {
	parts map[uint8][]byte
	// expected is the number of parts, 0 until the terminal fragment arrives.
	expected int
	aux      [4]byte
	haveAux0 bool
	emitted  bool
}

// ReassemblyTable collects the parts of in-flight frames keyed by absolute frame id.
// It is not safe for concurrent use; the receive loop is its only writer.
type ReassemblyTable struct {
	entries    map[int64]*frameEntry
	maxPending int
	// evicted counts unemitted entries dropped by either eviction path.
	evicted uint64
}

// NewReassemblyTable creates a table holding at most maxPending frames.
// maxPending <= 0 means no limit besides eviction on completion.
func NewReassemblyTable(maxPending int) *ReassemblyTable {
	return &ReassemblyTable{
		entries:    map[int64]*frameEntry{},
		maxPending: maxPending,
	}
}

// Insert records f as part of frameID. The payload is copied.
func (t *ReassemblyTable) Insert(frameID int64, f *Fragment) InsertResult {
	entry, ok := t.entries[frameID]
	if !ok {
		t.makeRoom()
		entry = &frameEntry{parts: map[uint8][]byte{}}
		t.entries[frameID] = entry
	}
	if entry.emitted {
		return InsertEmitted
	}

	if f.FrameEnd && entry.expected == 0 {
		// the first terminal fragment is authoritative
		entry.expected = int(f.Part) + 1
		for part := range entry.parts {
			if int(part) >= entry.expected {
				delete(entry.parts, part)
			}
		}
	}
	if entry.expected != 0 && int(f.Part) >= entry.expected {
		return InsertRejected
	}

	if f.Part == 0 || !entry.haveAux0 && len(entry.parts) == 0 {
		entry.aux = f.Aux
		entry.haveAux0 = f.Part == 0
	}

	result := InsertStored
	if _, ok := entry.parts[f.Part]; ok {
		result = InsertDuplicate
	}
	entry.parts[f.Part] = append([]byte(nil), f.Payload...)
	return result
}

// makeRoom evicts the oldest frames until one more entry fits.
func (t *ReassemblyTable) makeRoom() {
	if t.maxPending <= 0 {
		return
	}
	for len(t.entries) >= t.maxPending {
		oldest, _ := t.Oldest()
		t.remove(oldest)
	}
}

// IsComplete reports whether the part count of frameID is known and every part arrived.
func (t *ReassemblyTable) IsComplete(frameID int64) bool {
	entry, ok := t.entries[frameID]
	if !ok || entry.expected == 0 {
		return false
	}
	return len(entry.parts) == entry.expected
}

// Assemble concatenates the parts of frameID in part index order.
func (t *ReassemblyTable) Assemble(frameID int64) ([]byte, error) {
	entry, ok := t.entries[frameID]
	if !ok || entry.expected == 0 {
		return nil, &MissingPartError{FrameID: frameID, Part: -1}
	}

	size := 0
	for part := 0; part < entry.expected; part++ {
		payload, ok := entry.parts[uint8(part)]
		if !ok {
			return nil, &MissingPartError{FrameID: frameID, Part: part}
		}
		size += len(payload)
	}

	var buf bytes.Buffer
	buf.Grow(size)
	for part := 0; part < entry.expected; part++ {
		buf.Write(entry.parts[uint8(part)])
	}
	return buf.Bytes(), nil
}

// Aux returns the auxiliary bytes of frameID, preferring those of part 0.
func (t *ReassemblyTable) Aux(frameID int64) [4]byte {
	if entry, ok := t.entries[frameID]; ok {
		return entry.aux
	}
	return [4]byte{}
}

// Parts returns the number of distinct parts stored for frameID.
func (t *ReassemblyTable) Parts(frameID int64) int {
	if entry, ok := t.entries[frameID]; ok {
		return len(entry.parts)
	}
	return 0
}

// Contains reports whether the table holds an entry for frameID.
func (t *ReassemblyTable) Contains(frameID int64) bool {
	_, ok := t.entries[frameID]
	return ok
}

// MarkEmitted releases the payloads of frameID and makes it ignore later fragments.
func (t *ReassemblyTable) MarkEmitted(frameID int64) {
	if entry, ok := t.entries[frameID]; ok {
		entry.emitted = true
		entry.parts = nil
	}
}

func (t *ReassemblyTable) Emitted(frameID int64) bool {
	entry, ok := t.entries[frameID]
	return ok && entry.emitted
}

// EvictOlderThan removes every frame with an id strictly below frameID and returns how many went.
func (t *ReassemblyTable) EvictOlderThan(frameID int64) int {
	var n int
	for id := range t.entries {
		if id < frameID {
			t.remove(id)
			n++
		}
	}
	return n
}

func (t *ReassemblyTable) remove(frameID int64) {
	if entry, ok := t.entries[frameID]; ok {
		if !entry.emitted {
			t.evicted++
		}
		delete(t.entries, frameID)
	}
}

// Oldest returns the smallest frame id in the table.
func (t *ReassemblyTable) Oldest() (int64, bool) {
	var oldest int64
	found := false
	for id := range t.entries {
		if !found || id < oldest {
			oldest, found = id, true
		}
	}
	return oldest, found
}

func (t *ReassemblyTable) Len() int {
	return len(t.entries)
}

// Evicted returns how many frames were dropped without being emitted.
func (t *ReassemblyTable) Evicted() uint64 {
	return t.evicted
}

func (t *ReassemblyTable) Reset() {
	t.entries = map[int64]*frameEntry{}
	t.evicted = 0
}
