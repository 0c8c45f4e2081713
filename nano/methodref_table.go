// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// methodRefRecord is one 6-byte method-ref record, §4.5.
type methodRefRecord struct {
	nameID    uint16
	container uint16 // encode_type_token(declaring type) OR'd with the containing table tag
	sigID     uint16
}

// methodRefKey identifies a method reference by declaring type, name
// and signature bytes (overloads differ only by signature).
type methodRefKey struct {
	declaringFQN string
	name         string
	sig          string
}

// MethodRefTable is the reference table of methods defined outside this
// assembly.
type MethodRefTable struct {
	orderedTable[methodRefKey, methodRefRecord]
	gate *MinimizeGate
}

// NewMethodRefTable constructs an empty table gated by g.
func NewMethodRefTable(g *MinimizeGate) *MethodRefTable {
	return &MethodRefTable{orderedTable: newOrderedTable[methodRefKey, methodRefRecord](), gate: g}
}

// containerField packs a declaring-type encode_type_token's tag (low 2
// bits) and table-local id into the 16-bit container field.
func containerField(tag uint32, typeID uint16) uint16 {
	return uint16(encodeTypeToken(tag, typeID))
}

// GetOrCreate interns a method reference, keyed on declaring type, name
// and raw signature bytes so overloads do not collide.
func (t *MethodRefTable) GetOrCreate(declaringFQN, name string, sig []byte, nameID uint16, container uint16, sigID uint16) uint16 {
	key := methodRefKey{declaringFQN: declaringFQN, name: name, sig: string(sig)}
	return t.getOrInsert(key, methodRefRecord{nameID: nameID, container: container, sigID: sigID})
}

// TryGetID returns the id previously assigned to a method reference.
func (t *MethodRefTable) TryGetID(declaringFQN, name string, sig []byte) (uint16, bool) {
	return t.tryGetID(methodRefKey{declaringFQN: declaringFQN, name: name, sig: string(sig)})
}

// Write emits fixed 6-byte records in insertion order.
func (t *MethodRefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 6*len(t.items))
	for _, r := range t.items {
		var rec [6]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.container)
		binary.LittleEndian.PutUint16(rec[4:6], r.sigID)
		out = append(out, rec[:]...)
	}
	return out
}
