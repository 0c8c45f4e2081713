// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "testing"

// TestRecordWidths pins §8's "Record widths" property: every
// assembly-ref/type-ref/field-ref/method-ref/field-def record occupies
// exactly its declared width.
func TestRecordWidths(t *testing.T) {
	g := &MinimizeGate{}
	defer g.Set()

	art := NewAssemblyRefTable(g)
	art.GetOrCreate("A", 0, [2]uint16{1, 0})
	art.GetOrCreate("B", 1, [2]uint16{2, 0})

	trt := NewTypeRefTable(g)
	trt.GetOrCreate("NS.Foo", 2, 3, 0)

	frt := NewFieldRefTable(g)
	frt.GetOrCreate("NS.Foo", "bar", 4, 0, 5)

	mrt := NewMethodRefTable(g)
	mrt.GetOrCreate("NS.Foo", "Baz", []byte{0x00}, 6, 0, 7)

	fdt := NewFieldDefTable(g)
	fdt.Insert(0, 8, 9, 0, IDAbsent)
	fdt.Insert(1, 10, 11, 0, IDAbsent)

	g.Set()

	tests := []struct {
		name  string
		out   []byte
		width int
		n     int
	}{
		{"AssemblyRef", art.Write(), 8, 2},
		{"TypeRef", trt.Write(), 6, 1},
		{"FieldRef", frt.Write(), 6, 1},
		{"MethodRef", mrt.Write(), 6, 1},
		{"FieldDef", fdt.Write(), 8, 2},
	}
	for _, tt := range tests {
		if len(tt.out) != tt.width*tt.n {
			t.Errorf("%s: Write() produced %d bytes for %d record(s), want %d*%d=%d",
				tt.name, len(tt.out), tt.n, tt.width, tt.n, tt.width*tt.n)
		}
	}
}

// TestMethodDefRecordWidth pins the method-def table's declared 16-byte
// width.
func TestMethodDefRecordWidth(t *testing.T) {
	g := &MinimizeGate{}
	mdt := NewMethodDefTable(g)
	mdt.Insert(0, 1, 0, 0, 0, 0, IDAbsent, 2)
	g.Set()

	out := mdt.Write()
	if len(out) != 16 {
		t.Fatalf("MethodDefTable.Write() for one record = %d bytes, want 16", len(out))
	}
}

// TestTypeDefRecordWidth pins typedef_table.go's implementation choice
// of a constant 22-byte record.
func TestTypeDefRecordWidth(t *testing.T) {
	g := &MinimizeGate{}
	tdt := NewTypeDefTable(g)
	tdt.Insert(0, typeDefRecord{nameID: 1, namespaceID: 2, extendsToken: 0, enclosingTypeID: IDAbsent})
	g.Set()

	out := tdt.Write()
	if len(out) != typeDefRecordSize {
		t.Fatalf("TypeDefTable.Write() for one record = %d bytes, want %d", len(out), typeDefRecordSize)
	}
}
