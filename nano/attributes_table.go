// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"encoding/binary"
	"sort"
)

// attributeRecord is one attributes-table entry, §4.7:
// (owner-table-tag, owner-id, ctor-method-ref-id, signature-id).
type attributeRecord struct {
	ownerTag  TableTag
	ownerID   uint16
	ctorRefID uint16
	sigID     uint16
	sortName  string // the attribute's fully-qualified name, for compression ordering only
	origRow   uint32 // source CustomAttribute row (0-based), for the textual dump only
}

// AttributesTable is the flat list of §4.7's custom-attribute
// applications. Unlike the reference/definition tables it has no
// dedup key: every surviving, non-ignored attribute application gets
// its own entry.
type AttributesTable struct {
	records []attributeRecord
	gate    *MinimizeGate
}

// NewAttributesTable constructs an empty table gated by g.
func NewAttributesTable(g *MinimizeGate) *AttributesTable {
	return &AttributesTable{gate: g}
}

// Add appends one custom attribute application, origRow its source
// CustomAttribute row (0-based) for the textual dump.
func (t *AttributesTable) Add(ownerTag TableTag, ownerID, ctorRefID, sigID uint16, attributeFQN string, origRow uint32) {
	t.records = append(t.records, attributeRecord{
		ownerTag:  ownerTag,
		ownerID:   ownerID,
		ctorRefID: ctorRefID,
		sigID:     sigID,
		sortName:  attributeFQN,
		origRow:   origRow,
	})
}

// Write emits 8-byte records: owner-tag (u16), owner-id (u16),
// ctor-ref-id (u16), signature-id (u16). When compress sorts each
// owner's attributes by full name descending before emission (§4.7),
// which groups attribute runs the runtime can fold.
func (t *AttributesTable) Write(compress bool) []byte {
	if !t.gate.Complete() {
		return nil
	}
	records := t.records
	if compress {
		records = compressByOwner(t.records)
	}
	out := make([]byte, 0, 8*len(records))
	for _, r := range records {
		var rec [8]byte
		binary.LittleEndian.PutUint16(rec[0:2], uint16(r.ownerTag))
		binary.LittleEndian.PutUint16(rec[2:4], r.ownerID)
		binary.LittleEndian.PutUint16(rec[4:6], r.ctorRefID)
		binary.LittleEndian.PutUint16(rec[6:8], r.sigID)
		out = append(out, rec[:]...)
	}
	return out
}

// compressByOwner groups records by (ownerTag, ownerID) in first-seen
// order, sorting each owner's run by attribute name descending, per
// §4.7's attributes-compression flag.
func compressByOwner(records []attributeRecord) []attributeRecord {
	type ownerKey struct {
		tag TableTag
		id  uint16
	}
	var order []ownerKey
	groups := make(map[ownerKey][]attributeRecord)
	for _, r := range records {
		k := ownerKey{tag: r.ownerTag, id: r.ownerID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	out := make([]attributeRecord, 0, len(records))
	for _, k := range order {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].sortName > group[j].sortName
		})
		out = append(out, group...)
	}
	return out
}
