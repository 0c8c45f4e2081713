// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package nano lowers a loaded PE/CLI assembly into the compact,
// little-endian table format a constrained managed-code runtime loads.
package nano

import "strconv"

// Absent and external-bit sentinels, §3.
const (
	IDAbsent    uint16 = 0xFFFF
	ExternalBit uint16 = 0x8000
)

// Table tags OR'd into an extends/declaring-type token, §4.1. TagTypeSpec's
// 0b100 sits above the low two bits, on the shifted id's lowest bit.
const (
	TagTypeDef  uint32 = 0b000
	TagTypeRef  uint32 = 0b001
	TagTypeSpec uint32 = 0b100
)

// TableTag is the high-byte table discriminator of a 32-bit metadata
// token, §6 and GLOSSARY "Metadata token".
type TableTag byte

const (
	TblAssemblyRef TableTag = iota + 1
	TblTypeRef
	TblFieldRef
	TblMethodRef
	TblTypeDef
	TblFieldDef
	TblMethodDef
	TblAttributes
	TblTypeSpec
	TblResources
	TblResourceData
	TblSignatures
	TblStrings
	TblByteCode
	TblResourceFile
	TblGenericParam
	TblMethodSpec
)

// String names a TableTag for the textual dump; unrecognized values
// (there are none today, but TableTag is stored as a raw byte in the
// attributes table) fall back to their numeric form.
func (t TableTag) String() string {
	switch t {
	case TblAssemblyRef:
		return "AssemblyRef"
	case TblTypeRef:
		return "TypeRef"
	case TblFieldRef:
		return "FieldRef"
	case TblMethodRef:
		return "MethodRef"
	case TblTypeDef:
		return "TypeDef"
	case TblFieldDef:
		return "FieldDef"
	case TblMethodDef:
		return "MethodDef"
	case TblAttributes:
		return "Attributes"
	case TblTypeSpec:
		return "TypeSpec"
	case TblResources:
		return "Resources"
	case TblResourceData:
		return "ResourceData"
	case TblSignatures:
		return "Signatures"
	case TblStrings:
		return "Strings"
	case TblByteCode:
		return "ByteCode"
	case TblResourceFile:
		return "ResourceFile"
	case TblGenericParam:
		return "GenericParam"
	case TblMethodSpec:
		return "MethodSpec"
	default:
		return "Tag(" + strconv.Itoa(int(t)) + ")"
	}
}

// EncodeToken packs a table tag and row id into a 32-bit wire token:
// high 8 bits the tag, low 24 bits the id.
func EncodeToken(tag TableTag, id uint32) uint32 {
	return uint32(tag)<<24 | (id & 0x00FFFFFF)
}

// DecodeToken splits a 32-bit wire token back into its tag and id.
func DecodeToken(token uint32) (TableTag, uint32) {
	return TableTag(token >> 24), token & 0x00FFFFFF
}

// encodeTypeToken implements §4.1's encode_type_token: pack an encoded
// type handle's table tag (low 2 bits) with its table-local id.
func encodeTypeToken(tag uint32, id uint16) uint32 {
	return (uint32(id) << 2) | tag
}
