// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// typeDefRecord is one type-def record, §4.5. The row calls its width
// "variable" but every listed field is itself fixed width and none is a
// length-prefixed tail, so in this implementation the record is a
// constant 22 bytes: two u16 string ids, five more u16 fields, three u8
// method counts, one u8 data type, one u32 flags word.
type typeDefRecord struct {
	nameID             uint16
	namespaceID        uint16
	extendsToken       uint16 // encode_type_token(extends), 0 for System.Object/interfaces/<Module>
	enclosingTypeID    uint16
	interfaceSigID     uint16
	firstFieldID       uint16
	firstMethodID      uint16
	virtualMethodCount uint8
	instanceMethodCount uint8
	staticMethodCount  uint8
	dataType           uint8
	flags              uint32
}

const typeDefRecordSize = 22

// TypeDefTable is the definition table of types declared in this
// assembly, in the order the type orderer produced.
type TypeDefTable struct {
	orderedTable[uint32, typeDefRecord]
	gate *MinimizeGate
}

// NewTypeDefTable constructs an empty table gated by g.
func NewTypeDefTable(g *MinimizeGate) *TypeDefTable {
	return &TypeDefTable{orderedTable: newOrderedTable[uint32, typeDefRecord](), gate: g}
}

// Insert appends a type definition. Callers must insert in the order
// TypeOrderer.Order produced: insertion order is id order.
func (t *TypeDefTable) Insert(row uint32, rec typeDefRecord) uint16 {
	return t.getOrInsert(row, rec)
}

// TryGetID returns the id previously assigned to a type's loader row.
func (t *TypeDefTable) TryGetID(row uint32) (uint16, bool) {
	return t.tryGetID(row)
}

// TypeDefEntry is the subset of a type-def record a consumer outside
// this package (the native stub generator) needs: its name and the
// contiguous method-def id range it owns.
type TypeDefEntry struct {
	NameID        uint16
	NamespaceID   uint16
	FirstMethodID uint16
	MethodCount   int
}

// Len returns the number of surviving type definitions.
func (t *TypeDefTable) Len() int {
	return t.len()
}

// Entry returns id's record as a TypeDefEntry, for callers that only
// need to walk names and method ranges rather than the full wire record.
func (t *TypeDefTable) Entry(id uint16) TypeDefEntry {
	r := t.items[id]
	count := int(r.virtualMethodCount) + int(r.instanceMethodCount) + int(r.staticMethodCount)
	return TypeDefEntry{
		NameID:        r.nameID,
		NamespaceID:   r.namespaceID,
		FirstMethodID: r.firstMethodID,
		MethodCount:   count,
	}
}

// Write emits fixed 22-byte records in insertion (orderer) order.
func (t *TypeDefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, typeDefRecordSize*len(t.items))
	for _, r := range t.items {
		var rec [typeDefRecordSize]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.namespaceID)
		binary.LittleEndian.PutUint16(rec[4:6], r.extendsToken)
		binary.LittleEndian.PutUint16(rec[6:8], r.enclosingTypeID)
		binary.LittleEndian.PutUint16(rec[8:10], r.interfaceSigID)
		binary.LittleEndian.PutUint16(rec[10:12], r.firstFieldID)
		binary.LittleEndian.PutUint16(rec[12:14], r.firstMethodID)
		rec[14] = r.virtualMethodCount
		rec[15] = r.instanceMethodCount
		rec[16] = r.staticMethodCount
		rec[17] = r.dataType
		binary.LittleEndian.PutUint32(rec[18:22], r.flags)
		out = append(out, rec[:]...)
	}
	return out
}
