// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

// TypeSpecTable is §4.8's type-spec store: entries uniqued by their
// encoded signature bytes, holding generic parameters and generic
// instantiations.
type TypeSpecTable struct {
	orderedTable[string, uint16] // key: signature bytes as a string; value: the signature table's id for those bytes
	gate *MinimizeGate
}

// NewTypeSpecTable constructs an empty table gated by g.
func NewTypeSpecTable(g *MinimizeGate) *TypeSpecTable {
	return &TypeSpecTable{orderedTable: newOrderedTable[string, uint16](), gate: g}
}

// GetOrCreate interns a type-spec by its encoded signature bytes,
// recording the signature table id those bytes were assigned.
func (t *TypeSpecTable) GetOrCreate(sig []byte, sigID uint16) uint16 {
	return t.getOrInsert(string(sig), sigID)
}

// TryGetID returns the id previously assigned to a type-spec's
// signature bytes.
func (t *TypeSpecTable) TryGetID(sig []byte) (uint16, bool) {
	return t.tryGetID(string(sig))
}

// Write emits one u16 signature-id per entry, insertion order.
func (t *TypeSpecTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 2*t.len())
	for _, sigID := range t.items {
		out = append(out, byte(sigID), byte(sigID>>8))
	}
	return out
}
