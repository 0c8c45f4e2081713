// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"testing"

	pe "github.com/saferwall/nanometa"
)

// TestMethodSpecResolvesLocalGenericMethod pins §4.8: a MethodSpec row
// naming a local generic MethodDef interns a method-spec record keyed
// on {declaring-type-spec-id (absent, since Bar's declaring type is a
// plain TypeDef, not a TypeSpec), the method's resolved method-def id,
// the instantiation signature's id}, and the instantiation signature
// is a bare count-prefixed type-info list (EncodeMethodSpecSig), not a
// GenericInst-shaped blob with a leading base-type token.
func TestMethodSpecResolvesLocalGenericMethod(t *testing.T) {
	asm := &pe.Assembly{
		TypeDefs: []pe.TypeDefInfo{
			{Name: "Foo", Methods: []uint32{1}},
		},
		Methods: []pe.MethodDefInfo{
			{Name: "Bar", GenericRows: []uint32{1}},
		},
		MethodSpecs: []pe.MethodSpecInfo{
			{
				MethodIsDef:   true,
				MethodRow:     1,
				Instantiation: pe.SigType{GenArgs: []pe.SigType{{Kind: pe.ElementTypeI4}}},
			},
		},
	}

	ctx := NewContext(asm, nil)
	if err := ctx.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	methodID, ok := ctx.MethodDefs.TryGetID(0)
	if !ok {
		t.Fatal("Bar was never interned into the method-def table")
	}

	id, err := ctx.resolveMethodSpecID(1)
	if err != nil {
		t.Fatalf("resolveMethodSpecID: %v", err)
	}
	if n := ctx.MethodSpecs.len(); n != 1 {
		t.Fatalf("MethodSpecs.len() = %d, want 1", n)
	}

	// Re-resolving the same row must be memoized, not re-interned.
	again, err := ctx.resolveMethodSpecID(1)
	if err != nil {
		t.Fatalf("resolveMethodSpecID (second call): %v", err)
	}
	if again != id {
		t.Errorf("resolveMethodSpecID not memoized: got %d then %d", id, again)
	}
	if n := ctx.MethodSpecs.len(); n != 1 {
		t.Fatalf("MethodSpecs.len() after re-resolve = %d, want 1", n)
	}

	rec := ctx.MethodSpecs.items[id]
	if rec.typeSpecID != IDAbsent {
		t.Errorf("typeSpecID = %#x, want IDAbsent (Bar's declaring type is a plain TypeDef)", rec.typeSpecID)
	}
	if rec.methodDefID != methodID {
		t.Errorf("methodDefID = %d, want %d (Bar's method-def id)", rec.methodDefID, methodID)
	}

	blob := ctx.Signatures.Write()
	sigStart := rec.instSigID
	wantSig := []byte{0x01, pe.ElementTypeI4}
	if int(sigStart)+len(wantSig) > len(blob) {
		t.Fatalf("signature blob too short: %v", blob)
	}
	if got := blob[sigStart : int(sigStart)+len(wantSig)]; !bytesEqual(got, wantSig) {
		t.Errorf("instantiation signature = %v, want %v (count byte then DATATYPE_I4)", got, wantSig)
	}

	// ResolveTokOperand (ldtoken) must produce a wire token tagged
	// TBL_MethodSpec over the same interned id.
	token := int64(pe.MethodSpec)<<24 | 1
	wireToken, err := ctx.ResolveTokOperand(token)
	if err != nil {
		t.Fatalf("ResolveTokOperand: %v", err)
	}
	if want := EncodeToken(TblMethodSpec, uint32(id)); wireToken != want {
		t.Errorf("ResolveTokOperand = %#x, want %#x", wireToken, want)
	}
}

// TestMethodSpecKeepsDeclaringTypeReachable pins the minimizer/orderer
// gap a method referenced only through `ldtoken <methodspec>` would
// otherwise fall into: Generic is excluded as a root (it is not
// directly called, only reached via a MethodSpec naming its method
// Bar), but Caller's Main method carries a ldtoken of that MethodSpec —
// Generic and Bar must both survive minimization, exactly as if Main
// had called Bar directly.
func TestMethodSpecKeepsDeclaringTypeReachable(t *testing.T) {
	methodSpecToken := int64(pe.MethodSpec)<<24 | 1

	asm := &pe.Assembly{
		TypeDefs: []pe.TypeDefInfo{
			{Name: "Generic", Methods: []uint32{1}},
			{Name: "Caller", Methods: []uint32{2}},
		},
		Methods: []pe.MethodDefInfo{
			{Name: "Bar", GenericRows: []uint32{1}},
			{
				Name: "Main",
				Instructions: []pe.Instruction{
					{OperandKind: pe.OperandInlineTok, Token: methodSpecToken},
				},
			},
		},
		MethodSpecs: []pe.MethodSpecInfo{
			{
				MethodIsDef:   true,
				MethodRow:     1,
				Instantiation: pe.SigType{GenArgs: []pe.SigType{{Kind: pe.ElementTypeI4}}},
			},
		},
	}

	ctx := NewContext(asm, []string{"Generic"})
	if err := ctx.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if n := ctx.TypeDefs.Len(); n != 2 {
		t.Fatalf("TypeDefs.Len() = %d, want 2 (Generic must survive via the methodspec reference)", n)
	}
	if n := ctx.MethodDefs.Len(); n != 2 {
		t.Fatalf("MethodDefs.Len() = %d, want 2 (Bar must survive alongside Main)", n)
	}
	if _, ok := ctx.MethodDefs.TryGetID(0); !ok {
		t.Error("Bar (method row 0) was not interned despite being reachable through the methodspec")
	}
}
