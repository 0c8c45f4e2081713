// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"testing"

	pe "github.com/saferwall/nanometa"
)

// TestPipelineEmptyModule pins §8 scenario 1: a module containing only
// the synthetic <Module> type lowers to zero type-defs, zero method-defs,
// an empty signature blob, and a string heap holding only the empty
// string at offset 0.
func TestPipelineEmptyModule(t *testing.T) {
	asm := &pe.Assembly{
		TypeDefs: []pe.TypeDefInfo{
			{Name: "<Module>"},
		},
	}

	ctx := NewContext(asm, nil)
	if err := ctx.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if n := ctx.TypeDefs.Len(); n != 0 {
		t.Errorf("TypeDefs.Len() = %d, want 0", n)
	}
	if n := ctx.MethodDefs.Len(); n != 0 {
		t.Errorf("MethodDefs.Len() = %d, want 0", n)
	}
	if len(ctx.Signatures.Write()) != 0 {
		t.Errorf("signature blob = %d bytes, want 0", len(ctx.Signatures.Write()))
	}
	if want := []byte{0}; !bytesEqual(ctx.Strings.Write(), want) {
		t.Errorf("string heap = %v, want %v (only the empty string)", ctx.Strings.Write(), want)
	}

	img, err := Emit(ctx, false)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(img) == 0 {
		t.Error("Emit produced no output")
	}
}

// TestPipelineFooExtendsObjectBar pins §8 scenario 2: class Foo extends
// System.Object with one instance method void Bar(). The extends-token
// must equal (typeref_id_of_object << 2) | 0b001, the method-def record
// must be 16 bytes, and the method's signature bytes must be exactly
// 0x00, 0x00, DATATYPE_VOID.
func TestPipelineFooExtendsObjectBar(t *testing.T) {
	asm := &pe.Assembly{
		AssemblyRefs: []pe.AssemblyRefInfo{
			{Name: "mscorlib", MajorVersion: 4},
		},
		TypeRefs: []pe.TypeRefInfo{
			{Name: "Object", Namespace: "System", ScopeIsAssembly: true, AssemblyRefRow: 1},
		},
		TypeDefs: []pe.TypeDefInfo{
			{
				Name:    "Foo",
				Extends: pe.TypeHandle{Kind: pe.TypeHandleRef, RefRow: 1},
				Methods: []uint32{1},
			},
		},
		Methods: []pe.MethodDefInfo{
			{
				Name:      "Bar",
				Signature: pe.MethodSig{RetType: pe.SigType{Kind: pe.ElementTypeVoid}},
			},
		},
	}

	ctx := NewContext(asm, nil)
	if err := ctx.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if n := ctx.TypeDefs.Len(); n != 1 {
		t.Fatalf("TypeDefs.Len() = %d, want 1", n)
	}
	typeRefID, ok := ctx.TypeRefs.TryGetID("System.Object")
	if !ok {
		t.Fatal("System.Object was never interned into the type-ref table")
	}

	recBytes := ctx.TypeDefs.Write()
	if len(recBytes) != typeDefRecordSize {
		t.Fatalf("TypeDefs.Write() = %d bytes, want %d", len(recBytes), typeDefRecordSize)
	}
	extendsToken := uint16(recBytes[4]) | uint16(recBytes[5])<<8
	want := uint16((typeRefID << 2) | 0b001)
	if extendsToken != want {
		t.Errorf("extends-token = %#x, want %#x (typeref id %d)", extendsToken, want, typeRefID)
	}

	if n := ctx.MethodDefs.Len(); n != 1 {
		t.Fatalf("MethodDefs.Len() = %d, want 1", n)
	}
	methodBytes := ctx.MethodDefs.Write()
	if len(methodBytes) != 16 {
		t.Fatalf("MethodDefs.Write() for one method = %d bytes, want 16", len(methodBytes))
	}

	methodEntry := ctx.MethodDefs.Entry(0)
	if name, _ := ctx.Strings.TryGetString(methodEntry.NameID); name != "Bar" {
		t.Errorf("method name = %q, want %q", name, "Bar")
	}

	blob := ctx.Signatures.Write()
	wantSig := []byte{0x00, 0x00, pe.ElementTypeVoid}
	if len(blob) < len(wantSig) {
		t.Fatalf("signature blob too short: %v", blob)
	}
	if !bytesEqual(blob[:len(wantSig)], wantSig) {
		t.Errorf("method signature bytes = %v, want %v", blob[:len(wantSig)], wantSig)
	}
}

// TestPipelineConstantFieldExcluded pins §8 scenario 3: a static
// compile-time constant field is excluded from the field-def table
// entirely, and its value never reaches the signature blob as a
// default-value signature.
func TestPipelineConstantFieldExcluded(t *testing.T) {
	asm := &pe.Assembly{
		TypeDefs: []pe.TypeDefInfo{
			{
				Name:   "Foo",
				Fields: []uint32{1},
			},
		},
		Fields: []pe.FieldInfo{
			{Name: "x", Flags: fieldAttrStatic, Signature: pe.FieldSig{Type: pe.SigType{Kind: pe.ElementTypeI4}}},
		},
		Constants: []pe.ConstantInfo{
			{Type: pe.ElementTypeI4, ParentField: 1, Value: []byte{5, 0, 0, 0}},
		},
	}

	ctx := NewContext(asm, nil)
	if err := ctx.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if n := ctx.FieldDefs.Len(); n != 0 {
		t.Errorf("FieldDefs.Len() = %d, want 0 (constant field must be excluded)", n)
	}
	if len(ctx.Signatures.Write()) != 0 {
		t.Errorf("signature blob = %d bytes, want 0 (no default-value signature for a constant)", len(ctx.Signatures.Write()))
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
