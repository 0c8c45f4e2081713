// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// fieldRefRecord is one 6-byte field-ref record, §4.5.
//
// declaringTypeID is the full encode_type_token of the declaring type,
// not bare a type-ref id: a field accessed through a MemberRef can be
// declared on a generic instantiation (a TypeSpec) as well as on a
// plain external type, the same generalization methodRefRecord.container
// already makes.
type fieldRefRecord struct {
	nameID          uint16
	declaringTypeID uint16
	sigID           uint16
}

// fieldRefKey identifies a field reference by its declaring type and
// name, the comparer §4.5(b) calls for.
type fieldRefKey struct {
	declaringFQN string
	name         string
}

// FieldRefTable is the reference table of fields defined outside this
// assembly.
type FieldRefTable struct {
	orderedTable[fieldRefKey, fieldRefRecord]
	gate *MinimizeGate
}

// NewFieldRefTable constructs an empty table gated by g.
func NewFieldRefTable(g *MinimizeGate) *FieldRefTable {
	return &FieldRefTable{orderedTable: newOrderedTable[fieldRefKey, fieldRefRecord](), gate: g}
}

// GetOrCreate interns a field reference.
func (t *FieldRefTable) GetOrCreate(declaringFQN, name string, nameID, declaringTypeID, sigID uint16) uint16 {
	key := fieldRefKey{declaringFQN: declaringFQN, name: name}
	return t.getOrInsert(key, fieldRefRecord{nameID: nameID, declaringTypeID: declaringTypeID, sigID: sigID})
}

// TryGetID returns the id previously assigned to a field reference.
func (t *FieldRefTable) TryGetID(declaringFQN, name string) (uint16, bool) {
	return t.tryGetID(fieldRefKey{declaringFQN: declaringFQN, name: name})
}

// Write emits fixed 6-byte records in insertion order.
func (t *FieldRefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 6*len(t.items))
	for _, r := range t.items {
		var rec [6]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.declaringTypeID)
		binary.LittleEndian.PutUint16(rec[4:6], r.sigID)
		out = append(out, rec[:]...)
	}
	return out
}
