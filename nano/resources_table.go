// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "encoding/binary"

// resourceRecord is one manifest-resource entry. Record layout is not
// pinned by name-string-id/flags/data-offset/data-length in the
// retrieved distillation; this implementation uses a 12-byte record
// (name-string-id u16, flags u16, data-offset u32, data-length u32)
// mirroring the offset+length convention the output header itself uses
// for sections (§6). Recorded as a design decision in DESIGN.md.
type resourceRecord struct {
	nameID     uint16
	flags      uint16
	dataOffset uint32
	dataLength uint32
}

// ResourcesTable is the definition table of manifest resources embedded
// in this assembly.
type ResourcesTable struct {
	orderedTable[uint32, resourceRecord]
	gate *MinimizeGate
}

// NewResourcesTable constructs an empty table gated by g.
func NewResourcesTable(g *MinimizeGate) *ResourcesTable {
	return &ResourcesTable{orderedTable: newOrderedTable[uint32, resourceRecord](), gate: g}
}

// Insert appends a resource definition, keyed by its loader row.
func (t *ResourcesTable) Insert(row uint32, nameID, flags uint16, dataOffset, dataLength uint32) uint16 {
	return t.getOrInsert(row, resourceRecord{nameID: nameID, flags: flags, dataOffset: dataOffset, dataLength: dataLength})
}

// Write emits fixed 12-byte records in insertion order.
func (t *ResourcesTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 12*len(t.items))
	for _, r := range t.items {
		var rec [12]byte
		binary.LittleEndian.PutUint16(rec[0:2], r.nameID)
		binary.LittleEndian.PutUint16(rec[2:4], r.flags)
		binary.LittleEndian.PutUint32(rec[4:8], r.dataOffset)
		binary.LittleEndian.PutUint32(rec[8:12], r.dataLength)
		out = append(out, rec[:]...)
	}
	return out
}

// ResourceDataTable is the raw concatenated bytes of every embedded
// resource, addressed by the offsets ResourcesTable records hand out.
type ResourceDataTable struct {
	blob []byte
	gate *MinimizeGate
}

// NewResourceDataTable constructs an empty blob gated by g.
func NewResourceDataTable(g *MinimizeGate) *ResourceDataTable {
	return &ResourceDataTable{gate: g}
}

// Append adds raw resource bytes and returns their offset into the blob.
func (t *ResourceDataTable) Append(data []byte) uint32 {
	offset := uint32(len(t.blob))
	t.blob = append(t.blob, data...)
	return offset
}

// Write returns the resource-data section bytes.
func (t *ResourceDataTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	return t.blob
}

// resourceFileRecord names an external file a non-embedded resource's
// implementation points at.
type resourceFileRecord struct {
	nameID uint16
}

// ResourceFileTable is the reference table of external files that
// non-embedded manifest resources resolve against, keyed by file name.
type ResourceFileTable struct {
	orderedTable[string, resourceFileRecord]
	gate *MinimizeGate
}

// NewResourceFileTable constructs an empty table gated by g.
func NewResourceFileTable(g *MinimizeGate) *ResourceFileTable {
	return &ResourceFileTable{orderedTable: newOrderedTable[string, resourceFileRecord](), gate: g}
}

// GetOrCreate interns an external file reference by name.
func (t *ResourceFileTable) GetOrCreate(name string, nameID uint16) uint16 {
	return t.getOrInsert(name, resourceFileRecord{nameID: nameID})
}

// Write emits fixed 2-byte records (name-string-id) in insertion order.
func (t *ResourceFileTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	out := make([]byte, 0, 2*len(t.items))
	for _, r := range t.items {
		out = append(out, byte(r.nameID), byte(r.nameID>>8))
	}
	return out
}
