// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "sort"

// StringTable is the content-addressed, byte-offset-keyed string heap
// described in §4.3. Offsets are assigned on first get-or-create and are
// cumulative UTF-8 byte lengths including each entry's trailing NUL, not
// sequential counters.
type StringTable struct {
	constants  map[string]uint16
	offsets    map[string]uint16
	byID       map[uint16]string
	nextOffset uint16
}

// NewStringTable constructs a table with the empty string pre-interned at
// id 0, matching §8 scenario 4.
func NewStringTable() *StringTable {
	st := &StringTable{
		constants: buildConstantsIndex(),
		offsets:   make(map[string]uint16),
		byID:      make(map[uint16]string),
	}
	st.offsets[""] = 0
	st.byID[0] = ""
	st.nextOffset = 1 // the empty string occupies one byte: its trailing NUL
	return st
}

// GetOrCreate implements §4.3's get_or_create(s, use_constants).
func (st *StringTable) GetOrCreate(s string, useConstants bool) uint16 {
	if useConstants {
		if id, ok := st.constants[s]; ok {
			return id
		}
	}
	if id, ok := st.offsets[s]; ok {
		return id
	}
	id := st.nextOffset
	st.offsets[s] = id
	st.byID[id] = s
	st.nextOffset += uint16(len(s)) + 1
	return id
}

// TryGetString is the reverse lookup the GLOSSARY and §9 discuss;
// maintained as an explicit reverse map rather than an O(n) scan, per the
// decision recorded in DESIGN.md.
func (st *StringTable) TryGetString(id uint16) (string, bool) {
	if id&ConstantStringBit != 0 {
		idx := id &^ ConstantStringBit
		if int(idx) < len(wellKnownStrings) {
			return wellKnownStrings[idx], true
		}
		return "", false
	}
	s, ok := st.byID[id]
	return s, ok
}

// RemoveUnused drops any interned (non-constant) string whose id is not
// in the surviving set, per §4.3's "Remove-unused".
func (st *StringTable) RemoveUnused(surviving map[uint16]bool) {
	for s, id := range st.offsets {
		if s == "" {
			continue // the empty string is never removed; id 0 is load-bearing
		}
		if !surviving[id] {
			delete(st.offsets, s)
			delete(st.byID, id)
		}
	}
}

// sortedIDs returns every surviving (non-constant) string id in
// ascending order, for the textual dump's string heap listing.
func (st *StringTable) sortedIDs() []uint16 {
	ids := make([]uint16, 0, len(st.byID))
	for id := range st.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Write emits the heap in ascending id order: raw UTF-8 bytes per entry
// followed by a single NUL, §4.3's write().
func (st *StringTable) Write() []byte {
	ids := st.sortedIDs()

	var out []byte
	for _, id := range ids {
		out = append(out, st.byID[id]...)
		out = append(out, 0)
	}
	return out
}
