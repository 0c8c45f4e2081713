// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "testing"

func TestEncodeDecodeToken(t *testing.T) {
	tests := []struct {
		tag TableTag
		id  uint32
	}{
		{TblAssemblyRef, 0},
		{TblTypeRef, 1},
		{TblMethodDef, 0x00FFFFFF},
		{TblByteCode, 42},
	}
	for _, tt := range tests {
		tok := EncodeToken(tt.tag, tt.id)
		gotTag, gotID := DecodeToken(tok)
		if gotTag != tt.tag || gotID != tt.id {
			t.Errorf("EncodeToken(%v, %#x) round-trip = (%v, %#x), want (%v, %#x)",
				tt.tag, tt.id, gotTag, gotID, tt.tag, tt.id)
		}
	}
}

func TestEncodeTokenHighByteIsTag(t *testing.T) {
	tok := EncodeToken(TblTypeDef, 0x123456)
	if tag := byte(tok >> 24); tag != byte(TblTypeDef) {
		t.Errorf("high byte = %#x, want %#x", tag, byte(TblTypeDef))
	}
	if id := tok & 0x00FFFFFF; id != 0x123456 {
		t.Errorf("low 24 bits = %#x, want %#x", id, 0x123456)
	}
}

// TestEncodeTypeToken pins §4.1/§8 scenario 2's worked example: a
// type-ref extends-token is (id << 2) | 0b001.
func TestEncodeTypeToken(t *testing.T) {
	tests := []struct {
		name string
		tag  uint32
		id   uint16
		want uint32
	}{
		{"typedef", TagTypeDef, 5, 5 << 2},
		{"typeref", TagTypeRef, 7, (7 << 2) | 0b001},
		{"typespec", TagTypeSpec, 3, (3 << 2) | 0b100},
	}
	for _, tt := range tests {
		if got := encodeTypeToken(tt.tag, tt.id); got != tt.want {
			t.Errorf("%s: encodeTypeToken(%#b, %d) = %#x, want %#x", tt.name, tt.tag, tt.id, got, tt.want)
		}
	}
}

func TestTableTagString(t *testing.T) {
	if TblTypeDef.String() != "TypeDef" {
		t.Errorf("TblTypeDef.String() = %q, want %q", TblTypeDef.String(), "TypeDef")
	}
	if got := TableTag(200).String(); got != "Tag(200)" {
		t.Errorf("unknown tag String() = %q, want %q", got, "Tag(200)")
	}
}
