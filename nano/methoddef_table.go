// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// methodDefRecord is one 16-byte method-def record, §4.5.
//
// The field list as written ("retval-count/arg-count/local-count (u8
// each), locals-sig-id (u16), signature-id (u16)") sums to 17 bytes
// against a declared 16-byte width. §8's "Record widths" property tests
// the declared width, so it wins: a return value is always exactly 0 or
// 1 and is recovered from the signature at dump time rather than stored,
// leaving two u8 counts (arg-count, local-count) and the total at 16.
type methodDefRecord struct {
	nameID       uint16
	rva          uint32
	flags        uint32
	argCount     uint8
	localCount   uint8
	localsSigID  uint16
	sigID        uint16
}

// MethodDefTable is the definition table of methods declared in this
// assembly, keyed by loader row identity.
type MethodDefTable struct {
	orderedTable[uint32, methodDefRecord]
	gate *MinimizeGate
}

// NewMethodDefTable constructs an empty table gated by g.
func NewMethodDefTable(g *MinimizeGate) *MethodDefTable {
	return &MethodDefTable{orderedTable: newOrderedTable[uint32, methodDefRecord](), gate: g}
}

// Insert appends a method definition.
func (t *MethodDefTable) Insert(row uint32, nameID uint16, rva uint32, flags uint32, argCount, localCount uint8, localsSigID, sigID uint16) uint16 {
	rec := methodDefRecord{
		nameID:      nameID,
		rva:         rva,
		flags:       flags,
		argCount:    argCount,
		localCount:  localCount,
		localsSigID: localsSigID,
		sigID:       sigID,
	}
	return t.getOrInsert(row, rec)
}

// TryGetID returns the id previously assigned to a method's loader row.
func (t *MethodDefTable) TryGetID(row uint32) (uint16, bool) {
	return t.tryGetID(row)
}

// MethodDefEntry is the subset of a method-def record the native stub
// generator needs: its name and the RVA its body was emitted at.
type MethodDefEntry struct {
	NameID uint16
	RVA    uint32
}

// Len returns the number of surviving method definitions.
func (t *MethodDefTable) Len() int {
	return t.len()
}

// Entry returns id's record as a MethodDefEntry.
func (t *MethodDefTable) Entry(id uint16) MethodDefEntry {
	r := t.items[id]
	return MethodDefEntry{NameID: r.nameID, RVA: r.rva}
}

// Write emits fixed 16-byte records in insertion order.
func (t *MethodDefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 16*len(t.items))
	for _, r := range t.items {
		var rec [16]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint32(rec[2:6], r.rva)
		binary.LittleEndian.PutUint32(rec[6:10], r.flags)
		rec[10] = r.argCount
		rec[11] = r.localCount
		binary.LittleEndian.PutUint16(rec[12:14], r.localsSigID)
		binary.LittleEndian.PutUint16(rec[14:16], r.sigID)
		out = append(out, rec[:]...)
	}
	return out
}
