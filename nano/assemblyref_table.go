// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// assemblyRefRecord is one 8-byte assembly-ref record, §4.5.
//
// The table's field list ("name-string-id (u16), 0 (u16), version
// (4×u16)") sums to 12 bytes, which contradicts the declared 8-byte
// record size in the same row. Declared widths are the ones §8's
// "Record widths" property tests against, so they win: version is
// carried as a 2×u16 (major, minor) pair, name + zero-pad + major +
// minor = 8 bytes exactly.
type assemblyRefRecord struct {
	nameID  uint16
	version [2]uint16
}

// AssemblyRefTable is the reference table of assemblies this one depends
// on, keyed by assembly name (the comparer §4.5(b) calls for on
// reference tables).
type AssemblyRefTable struct {
	orderedTable[string, assemblyRefRecord]
	gate *MinimizeGate
}

// NewAssemblyRefTable constructs an empty table gated by g.
func NewAssemblyRefTable(g *MinimizeGate) *AssemblyRefTable {
	return &AssemblyRefTable{orderedTable: newOrderedTable[string, assemblyRefRecord](), gate: g}
}

// GetOrCreate interns an assembly reference by name, assigning string id
// nameID and recording its major.minor version.
func (t *AssemblyRefTable) GetOrCreate(name string, nameID uint16, version [2]uint16) uint16 {
	return t.getOrInsert(name, assemblyRefRecord{nameID: nameID, version: version})
}

// TryGetID returns the id previously assigned to an assembly name.
func (t *AssemblyRefTable) TryGetID(name string) (uint16, bool) {
	return t.tryGetID(name)
}

// Write emits fixed 8-byte records in insertion order, or nothing if
// minimization has not completed (§4.5 "Failure").
func (t *AssemblyRefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 8*len(t.items))
	for _, r := range t.items {
		var rec [8]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], 0)
		binary.LittleEndian.PutUint16(rec[4:6], r.version[0])
		binary.LittleEndian.PutUint16(rec[6:8], r.version[1])
		out = append(out, rec[:]...)
	}
	return out
}
