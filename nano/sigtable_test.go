// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"bytes"
	"testing"

	pe "github.com/saferwall/nanometa"
)

// TestSignatureIdempotence pins §8's "Signature idempotence" property.
func TestSignatureIdempotence(t *testing.T) {
	st := NewSignatureTable()
	sig := []byte{0x00, 0x00, pe.ElementTypeVoid}

	a := st.GetOrCreate(sig)
	lenAfterFirst := len(st.Write())
	b := st.GetOrCreate(sig)
	lenAfterSecond := len(st.Write())

	if a != b {
		t.Fatalf("GetOrCreate(sig) returned different ids on repeat: %d != %d", a, b)
	}
	if lenAfterFirst != lenAfterSecond {
		t.Fatalf("blob grew on second GetOrCreate: %d -> %d", lenAfterFirst, lenAfterSecond)
	}
}

// TestSignatureSubMatch pins §8's "Signature sub-match" property and
// §8 scenario 5: a signature that is a contiguous suffix of an
// already-emitted signature is interned at an offset inside it, without
// growing the blob.
func TestSignatureSubMatch(t *testing.T) {
	st := NewSignatureTable()

	first := []byte{0x00, 0x02, pe.ElementTypeI4, pe.ElementTypeString, pe.ElementTypeObject}
	firstID := st.GetOrCreate(first)
	if firstID != 0 {
		t.Fatalf("first signature should land at offset 0, got %d", firstID)
	}
	blobLenAfterFirst := len(st.Write())

	suffix := first[2:] // a contiguous sub-sequence of the already-emitted bytes
	suffixID := st.GetOrCreate(suffix)

	if suffixID == 0 || int(suffixID) >= blobLenAfterFirst {
		t.Fatalf("suffix should resolve to an offset inside the existing blob, got %d (blob len %d)", suffixID, blobLenAfterFirst)
	}
	if len(st.Write()) != blobLenAfterFirst {
		t.Fatalf("blob grew on a sub-match hit: %d -> %d", blobLenAfterFirst, len(st.Write()))
	}

	got := st.Write()[suffixID : int(suffixID)+len(suffix)]
	if !bytes.Equal(got, suffix) {
		t.Fatalf("blob bytes at suffix offset = %v, want %v", got, suffix)
	}
}

func TestSignatureEmptyAlwaysZero(t *testing.T) {
	st := NewSignatureTable()
	st.GetOrCreate([]byte{0x01, 0x02})
	if id := st.GetOrCreate(nil); id != 0 {
		t.Fatalf("GetOrCreate(nil) = %d, want 0", id)
	}
}

// TestEncodeFieldSigPrimitive pins §6's big-endian rule for field
// signatures and the 0x06 leading byte §4.4 mandates.
func TestEncodeFieldSigPrimitive(t *testing.T) {
	sig := pe.SigType{Kind: pe.ElementTypeI4}
	resolve := func(pe.TypeHandle) (uint32, error) { return 0, nil }
	resolveHandle := func(pe.SigType) (pe.TypeHandle, bool) { return pe.TypeHandle{}, false }
	expandEnum := func(pe.SigType) (pe.FieldSig, bool) { return pe.FieldSig{}, false }

	got, err := EncodeFieldSig(sig, resolve, resolveHandle, expandEnum)
	if err != nil {
		t.Fatalf("EncodeFieldSig: %v", err)
	}
	want := []byte{0x06, pe.ElementTypeI4}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeFieldSig(I4) = %v, want %v", got, want)
	}
}

// TestEncodeMethodSigVoid pins §8 scenario 2's worked method-signature
// bytes for `void Bar()`: 0x00, 0x00, DATATYPE_VOID.
func TestEncodeMethodSigVoid(t *testing.T) {
	sig := pe.MethodSig{RetType: pe.SigType{Kind: pe.ElementTypeVoid}}
	resolve := func(pe.TypeHandle) (uint32, error) { return 0, nil }
	resolveHandle := func(pe.SigType) (pe.TypeHandle, bool) { return pe.TypeHandle{}, false }
	expandEnum := func(pe.SigType) (pe.FieldSig, bool) { return pe.FieldSig{}, false }

	got, err := EncodeMethodSig(sig, resolve, resolveHandle, expandEnum)
	if err != nil {
		t.Fatalf("EncodeMethodSig: %v", err)
	}
	want := []byte{0x00, 0x00, pe.ElementTypeVoid}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeMethodSig(void Bar()) = %v, want %v", got, want)
	}
}

func TestEncodeMethodSigHasThis(t *testing.T) {
	sig := pe.MethodSig{
		CallingConvention: pe.SigHasThis,
		RetType:           pe.SigType{Kind: pe.ElementTypeVoid},
		Params:            []pe.SigType{{Kind: pe.ElementTypeI4}},
	}
	resolve := func(pe.TypeHandle) (uint32, error) { return 0, nil }
	resolveHandle := func(pe.SigType) (pe.TypeHandle, bool) { return pe.TypeHandle{}, false }
	expandEnum := func(pe.SigType) (pe.FieldSig, bool) { return pe.FieldSig{}, false }

	got, err := EncodeMethodSig(sig, resolve, resolveHandle, expandEnum)
	if err != nil {
		t.Fatalf("EncodeMethodSig: %v", err)
	}
	want := []byte{0x20, 0x01, pe.ElementTypeVoid, pe.ElementTypeI4}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeMethodSig(has-this, 1 param) = %v, want %v", got, want)
	}
}

func TestEncodeDefaultFieldValue(t *testing.T) {
	got := EncodeDefaultFieldValue([]byte{0x05, 0x00, 0x00, 0x00})
	want := []byte{0x04, 0x00, 0x05, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeDefaultFieldValue = %v, want %v", got, want)
	}
}
