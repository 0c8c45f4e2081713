// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"bytes"
	"testing"
)

// TestStringTableScenario4 pins §8 scenario 4 literally: id("") = 0,
// id("A") = 1, id("AB") = 3, heap bytes 00 'A' 00 'A' 'B' 00.
func TestStringTableScenario4(t *testing.T) {
	st := NewStringTable()

	if id := st.GetOrCreate("", false); id != 0 {
		t.Fatalf(`id("") = %d, want 0`, id)
	}
	if id := st.GetOrCreate("A", false); id != 1 {
		t.Fatalf(`id("A") = %d, want 1`, id)
	}
	if id := st.GetOrCreate("AB", false); id != 3 {
		t.Fatalf(`id("AB") = %d, want 3`, id)
	}

	want := []byte{0, 'A', 0, 'A', 'B', 0}
	if got := st.Write(); !bytes.Equal(got, want) {
		t.Fatalf("Write() = %v, want %v", got, want)
	}
}

func TestStringTableIdempotent(t *testing.T) {
	st := NewStringTable()
	a := st.GetOrCreate("hello", false)
	b := st.GetOrCreate("hello", false)
	if a != b {
		t.Fatalf("interning the same string twice gave different ids: %d != %d", a, b)
	}
}

func TestStringTableUniqueness(t *testing.T) {
	st := NewStringTable()
	ids := map[uint16]string{}
	for _, s := range []string{"", "foo", "bar", "foobar", "baz"} {
		id := st.GetOrCreate(s, false)
		if prev, ok := ids[id]; ok && prev != s {
			t.Fatalf("id %d assigned to both %q and %q", id, prev, s)
		}
		ids[id] = s
	}
}

// TestStringTableRoundTrip checks every interned string can be read back
// from the written heap at its own id, per §8's "String round-trip".
func TestStringTableRoundTrip(t *testing.T) {
	st := NewStringTable()
	strs := []string{"", "Foo", "Bar.Baz", "System.Object", "x"}
	ids := make(map[string]uint16, len(strs))
	for _, s := range strs {
		ids[s] = st.GetOrCreate(s, false)
	}

	heap := st.Write()
	for _, s := range strs {
		id := ids[s]
		end := int(id) + len(s) + 1
		if end > len(heap) {
			t.Fatalf("string %q at id %d runs past heap end (%d)", s, id, len(heap))
		}
		got := heap[id:end]
		if string(got[:len(s)]) != s || got[len(s)] != 0 {
			t.Fatalf("heap[%d:%d] = %q, want %q+NUL", id, end, got, s)
		}
	}
}

func TestStringTableConstants(t *testing.T) {
	st := NewStringTable()
	id := st.GetOrCreate(".ctor", true)
	if id&ConstantStringBit == 0 {
		t.Fatalf(".ctor with useConstants=true should carry ConstantStringBit, got %#x", id)
	}
	// The same string without the constants lookup lands in the heap
	// instead, at a distinct (non-constant) id.
	heapID := st.GetOrCreate(".ctor", false)
	if heapID&ConstantStringBit != 0 {
		t.Fatalf(".ctor with useConstants=false should not carry ConstantStringBit, got %#x", heapID)
	}
}

func TestStringTableTryGetString(t *testing.T) {
	st := NewStringTable()
	id := st.GetOrCreate("roundtrip", false)
	s, ok := st.TryGetString(id)
	if !ok || s != "roundtrip" {
		t.Fatalf("TryGetString(%d) = (%q, %v), want (%q, true)", id, s, ok, "roundtrip")
	}
	if _, ok := st.TryGetString(0xBEEF); ok {
		t.Fatalf("TryGetString on an unassigned id should report false")
	}
}

func TestStringTableRemoveUnused(t *testing.T) {
	st := NewStringTable()
	keepID := st.GetOrCreate("keep", false)
	dropID := st.GetOrCreate("drop", false)

	st.RemoveUnused(map[uint16]bool{0: true, keepID: true})

	if _, ok := st.TryGetString(dropID); ok {
		t.Fatalf("id %d for %q should have been removed", dropID, "drop")
	}
	if _, ok := st.TryGetString(keepID); !ok {
		t.Fatalf("id %d for %q should have survived", keepID, "keep")
	}
	if _, ok := st.TryGetString(0); !ok {
		t.Fatalf("the empty string's id 0 must never be removed")
	}
}
