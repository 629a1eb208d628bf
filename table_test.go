package endoscope

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func testFragment(part uint8, end bool, payload string) *Fragment {
	return &Fragment{Part: part, FrameEnd: end, Payload: []byte(payload)}
}

func TestReassemblyTable_Complete(t *testing.T) {
	table := NewReassemblyTable(0)

	table.Insert(10, testFragment(1, false, "B"))
	if table.IsComplete(10) {
		t.Error("complete without terminal fragment")
	}
	table.Insert(10, testFragment(0, false, "A"))
	if table.IsComplete(10) {
		t.Error("complete without terminal fragment")
	}
	table.Insert(10, testFragment(2, true, "C"))
	if !table.IsComplete(10) {
		t.Fatal("all parts arrived but frame incomplete")
	}

	data, err := table.Assemble(10)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ABC" {
		t.Error("expected ABC got", string(data))
	}
	if table.Parts(10) != 3 {
		t.Error("expected 3 parts got", table.Parts(10))
	}
}

func TestReassemblyTable_AnyOrder(t *testing.T) {
	const numParts = 20
	var expected []byte
	fragments := make([]*Fragment, numParts)
	for i := range fragments {
		payload := bytes.Repeat([]byte{byte(i)}, i+1)
		expected = append(expected, payload...)
		fragments[i] = &Fragment{Part: uint8(i), FrameEnd: i == numParts-1, Payload: payload}
	}

	r := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		table := NewReassemblyTable(0)
		r.Shuffle(len(fragments), func(i, j int) { fragments[i], fragments[j] = fragments[j], fragments[i] })
		for i, f := range fragments {
			table.Insert(1, f)
			if complete := table.IsComplete(1); complete != (i == numParts-1) {
				t.Fatal("round", round, "after", i+1, "parts complete =", complete)
			}
		}
		data, err := table.Assemble(1)
		if err != nil || !bytes.Equal(data, expected) {
			t.Fatal("round", round, "assembled wrong data", err)
		}
	}
}

func TestReassemblyTable_Duplicate(t *testing.T) {
	table := NewReassemblyTable(0)
	if r := table.Insert(1, testFragment(0, false, "old")); r != InsertStored {
		t.Error("expected stored got", r)
	}
	if r := table.Insert(1, testFragment(0, false, "new")); r != InsertDuplicate {
		t.Error("expected duplicate got", r)
	}
	table.Insert(1, testFragment(1, true, "!"))
	if table.Parts(1) != 2 {
		t.Error("duplicate counted as a new part", table.Parts(1))
	}
	data, _ := table.Assemble(1)
	if string(data) != "new!" {
		t.Error("last write should win, got", string(data))
	}
}

func TestReassemblyTable_PayloadCopied(t *testing.T) {
	table := NewReassemblyTable(0)
	f := testFragment(0, true, "abc")
	table.Insert(1, f)
	f.Payload[0] = 'x'
	data, _ := table.Assemble(1)
	if string(data) != "abc" {
		t.Error("table aliases the datagram buffer:", string(data))
	}
}

func TestReassemblyTable_FirstTerminalWins(t *testing.T) {
	table := NewReassemblyTable(0)
	table.Insert(1, testFragment(0, false, "A"))
	table.Insert(1, testFragment(1, true, "B"))
	if r := table.Insert(1, testFragment(3, true, "D")); r != InsertRejected {
		t.Error("second terminal fragment with a larger count should be rejected, got", r)
	}
	if !table.IsComplete(1) {
		t.Error("frame should stay complete at 2 parts")
	}
}

func TestReassemblyTable_RejectBeyondCount(t *testing.T) {
	table := NewReassemblyTable(0)

	// parts seen before the terminal fragment that lie beyond it are dropped
	table.Insert(1, testFragment(5, false, "X"))
	table.Insert(1, testFragment(1, true, "B"))
	if table.Parts(1) != 1 {
		t.Error("part 5 should have been dropped, parts =", table.Parts(1))
	}
	if r := table.Insert(1, testFragment(2, false, "C")); r != InsertRejected {
		t.Error("expected rejected got", r)
	}
	table.Insert(1, testFragment(0, false, "A"))
	data, err := table.Assemble(1)
	if err != nil || string(data) != "AB" {
		t.Error("expected AB got", string(data), err)
	}
}

func TestReassemblyTable_Missing(t *testing.T) {
	table := NewReassemblyTable(0)

	_, err := table.Assemble(1)
	var missing *MissingPartError
	if !errors.As(err, &missing) || missing.Part != -1 {
		t.Error("expected unknown count error got", err)
	}

	table.Insert(1, testFragment(0, false, "A"))
	table.Insert(1, testFragment(2, true, "C"))
	_, err = table.Assemble(1)
	if !errors.As(err, &missing) || missing.FrameID != 1 || missing.Part != 1 {
		t.Error("expected missing part 1 got", err)
	}
}

func TestReassemblyTable_Aux(t *testing.T) {
	table := NewReassemblyTable(0)
	f := testFragment(1, true, "B")
	SetRotation(&f.Aux, 90)
	table.Insert(1, f)
	if r := table.Aux(1); r != f.Aux {
		t.Error("aux of the first fragment should be kept until part 0 arrives", r)
	}

	f = testFragment(0, false, "A")
	SetRotation(&f.Aux, 180)
	table.Insert(1, f)

	f = testFragment(1, true, "B")
	SetRotation(&f.Aux, 270)
	table.Insert(1, f)

	aux := table.Aux(1)
	if rotation := (&Fragment{Aux: aux}).Rotation(); rotation != 180 {
		t.Error("part 0 aux should win, rotation", rotation)
	}
}

func TestReassemblyTable_Evict(t *testing.T) {
	table := NewReassemblyTable(0)

	// scenario: 7 is missing a part when 8 completes
	table.Insert(7, testFragment(0, false, "a"))
	table.Insert(7, testFragment(2, true, "c"))
	table.Insert(8, testFragment(0, true, "x"))
	table.Insert(9, testFragment(0, false, "y"))

	if n := table.EvictOlderThan(8); n != 1 {
		t.Error("expected 1 evicted got", n)
	}
	if table.Contains(7) || !table.Contains(8) || !table.Contains(9) {
		t.Error("wrong frames evicted")
	}
	if table.Evicted() != 1 {
		t.Error("expected eviction count 1 got", table.Evicted())
	}

	// emitted frames do not count as lost
	table.MarkEmitted(8)
	table.EvictOlderThan(9)
	if table.Evicted() != 1 || table.Contains(8) {
		t.Error("emitted frame counted as evicted", table.Evicted())
	}
}

func TestReassemblyTable_Emitted(t *testing.T) {
	table := NewReassemblyTable(0)
	table.Insert(3, testFragment(0, true, "A"))
	table.MarkEmitted(3)

	if !table.Emitted(3) {
		t.Error("frame not marked emitted")
	}
	if r := table.Insert(3, testFragment(0, true, "A")); r != InsertEmitted {
		t.Error("late fragment of an emitted frame should be ignored, got", r)
	}
	if table.IsComplete(3) {
		t.Error("emitted frame must not complete again")
	}
}

func TestReassemblyTable_MaxPending(t *testing.T) {
	table := NewReassemblyTable(4)
	for id := int64(0); id < 10; id++ {
		table.Insert(id, testFragment(0, false, "a"))
		if table.Len() > 4 {
			t.Fatal("table grew to", table.Len())
		}
	}
	if oldest, _ := table.Oldest(); oldest != 6 {
		t.Error("expected oldest 6 got", oldest)
	}
	if table.Evicted() != 6 {
		t.Error("expected 6 evicted got", table.Evicted())
	}

	table.Reset()
	if table.Len() != 0 {
		t.Error("reset left", table.Len(), "entries")
	}
	if table.Evicted() != 0 {
		t.Error("reset kept the eviction count", table.Evicted())
	}
	if _, ok := table.Oldest(); ok {
		t.Error("empty table has no oldest frame")
	}
}
