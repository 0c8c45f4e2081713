// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "testing"

func TestMinimizeGateOneWay(t *testing.T) {
	g := &MinimizeGate{}
	if g.Complete() {
		t.Fatal("a fresh gate must not be complete")
	}
	g.Set()
	if !g.Complete() {
		t.Fatal("gate should be complete after Set")
	}
	g.Set() // one-way: calling twice is harmless
	if !g.Complete() {
		t.Fatal("gate should still be complete after a second Set")
	}
}

func TestNilGateIsNotComplete(t *testing.T) {
	var g *MinimizeGate
	if g.Complete() {
		t.Fatal("a nil gate must report not complete")
	}
}

// TestWriteBeforeMinimizeIsEmpty pins §8's "Minimization gate" property:
// writing any reference/definition table before minimize-complete
// produces an empty section.
func TestWriteBeforeMinimizeIsEmpty(t *testing.T) {
	g := &MinimizeGate{}

	art := NewAssemblyRefTable(g)
	art.GetOrCreate("SomeAssembly", 1, [2]uint16{1, 0})
	if out := art.Write(); len(out) != 0 {
		t.Fatalf("AssemblyRefTable.Write() before minimize-complete = %d bytes, want 0", len(out))
	}

	g.Set()
	if out := art.Write(); len(out) == 0 {
		t.Fatal("AssemblyRefTable.Write() after minimize-complete should emit the inserted record")
	}
}
