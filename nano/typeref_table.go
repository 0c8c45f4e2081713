// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// typeRefRecord is one 6-byte type-ref record, §4.5.
type typeRefRecord struct {
	nameID      uint16
	namespaceID uint16
	scope       uint16 // assembly-ref id the type resolves through
}

// TypeRefTable is the reference table of types defined outside this
// assembly, keyed by fully-qualified name.
type TypeRefTable struct {
	orderedTable[string, typeRefRecord]
	gate *MinimizeGate
}

// NewTypeRefTable constructs an empty table gated by g.
func NewTypeRefTable(g *MinimizeGate) *TypeRefTable {
	return &TypeRefTable{orderedTable: newOrderedTable[string, typeRefRecord](), gate: g}
}

// GetOrCreate interns a type reference under its fully-qualified name.
func (t *TypeRefTable) GetOrCreate(fqn string, nameID, namespaceID, scope uint16) uint16 {
	return t.getOrInsert(fqn, typeRefRecord{nameID: nameID, namespaceID: namespaceID, scope: scope})
}

// TryGetID returns the id previously assigned to a type reference.
func (t *TypeRefTable) TryGetID(fqn string) (uint16, bool) {
	return t.tryGetID(fqn)
}

// Write emits fixed 6-byte records in insertion order.
func (t *TypeRefTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 6*len(t.items))
	for _, r := range t.items {
		var rec [6]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.namespaceID)
		binary.LittleEndian.PutUint16(rec[4:6], r.scope)
		out = append(out, rec[:]...)
	}
	return out
}
