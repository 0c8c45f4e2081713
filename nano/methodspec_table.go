// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// methodSpecRecord is one method-spec entry, §4.8: a generic method
// instantiation.
type methodSpecRecord struct {
	typeSpecID  uint16
	methodDefID uint16
	instSigID   uint16
}

// methodSpecKey identifies a method-spec by the three values that make
// it unique: which generic method, instantiated with which signature,
// on which declaring type-spec.
type methodSpecKey struct {
	typeSpecID  uint16
	methodDefID uint16
	instSigID   uint16
}

// MethodSpecTable is §4.8's generic-method-instantiation store.
type MethodSpecTable struct {
	orderedTable[methodSpecKey, methodSpecRecord]
	gate *MinimizeGate
}

// NewMethodSpecTable constructs an empty table gated by g.
func NewMethodSpecTable(g *MinimizeGate) *MethodSpecTable {
	return &MethodSpecTable{orderedTable: newOrderedTable[methodSpecKey, methodSpecRecord](), gate: g}
}

// GetOrCreate interns a generic method instantiation.
func (t *MethodSpecTable) GetOrCreate(typeSpecID, methodDefID, instSigID uint16) uint16 {
	key := methodSpecKey{typeSpecID: typeSpecID, methodDefID: methodDefID, instSigID: instSigID}
	return t.getOrInsert(key, methodSpecRecord{typeSpecID: typeSpecID, methodDefID: methodDefID, instSigID: instSigID})
}

// Write emits 6-byte records: declaring-type-spec-id, generic-method-
// def-id, instantiation-sig-id.
func (t *MethodSpecTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 6*len(t.items))
	for _, r := range t.items {
		var rec [6]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.typeSpecID)
		binary.LittleEndian.PutUint16(rec[2:4], r.methodDefID)
		binary.LittleEndian.PutUint16(rec[4:6], r.instSigID)
		out = append(out, rec[:]...)
	}
	return out
}
