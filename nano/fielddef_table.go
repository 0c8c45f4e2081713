// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// fieldDefRecord is one 8-byte field-def record, §4.5. Fields with a
// compile-time constant never reach this table, and their default
// values are not written to the signature blob either (§8 scenario 3).
type fieldDefRecord struct {
	nameID       uint16
	sigID        uint16
	flags        uint16
	defaultSigID uint16
}

// FieldDefTable is the definition table of fields declared in this
// assembly, keyed by loader row identity.
type FieldDefTable struct {
	orderedTable[uint32, fieldDefRecord]
	gate *MinimizeGate
}

// NewFieldDefTable constructs an empty table gated by g.
func NewFieldDefTable(g *MinimizeGate) *FieldDefTable {
	return &FieldDefTable{orderedTable: newOrderedTable[uint32, fieldDefRecord](), gate: g}
}

// Insert appends a field definition. Field rows are never shared across
// identities, so this always assigns a fresh id for a not-yet-seen row.
func (t *FieldDefTable) Insert(row uint32, nameID, sigID, flags, defaultSigID uint16) uint16 {
	return t.getOrInsert(row, fieldDefRecord{nameID: nameID, sigID: sigID, flags: flags, defaultSigID: defaultSigID})
}

// TryGetID returns the id previously assigned to a field's loader row.
func (t *FieldDefTable) TryGetID(row uint32) (uint16, bool) {
	return t.tryGetID(row)
}

// Len returns the number of surviving field definitions.
func (t *FieldDefTable) Len() int {
	return t.len()
}

// Write emits fixed 8-byte records in insertion order.
func (t *FieldDefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 8*len(t.items))
	for _, r := range t.items {
		var rec [8]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.sigID)
		binary.LittleEndian.PutUint16(rec[4:6], r.flags)
		binary.LittleEndian.PutUint16(rec[6:8], r.defaultSigID)
		out = append(out, rec[:]...)
	}
	return out
}
