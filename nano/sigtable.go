// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"bytes"
	"encoding/binary"

	pe "github.com/saferwall/nanometa"
)

// type-info leading bytes, §4.4. The nano format reuses ECMA-335's own
// element-type byte values for these rather than inventing a parallel
// numbering: DATATYPE_BYREF/CLASS/VALUETYPE/SZARRAY sit at exactly the
// element-type codes the loader already decodes signatures into.
const (
	DataTypeByRef     = pe.ElementTypeByRef
	DataTypeClass     = pe.ElementTypeClass
	DataTypeValueType = pe.ElementTypeValueType
	DataTypeSzArray   = pe.ElementTypeSzArray
	DataTypeUnknown   = 0x00
)

// primitiveMap is the "in the primitive map" test §4.4 refers to: element
// types with a direct one-byte nano-data-type code and no sub-type-token.
var primitiveMap = map[byte]byte{
	pe.ElementTypeVoid:    pe.ElementTypeVoid,
	pe.ElementTypeBoolean: pe.ElementTypeBoolean,
	pe.ElementTypeChar:    pe.ElementTypeChar,
	pe.ElementTypeI1:      pe.ElementTypeI1,
	pe.ElementTypeU1:      pe.ElementTypeU1,
	pe.ElementTypeI2:      pe.ElementTypeI2,
	pe.ElementTypeU2:      pe.ElementTypeU2,
	pe.ElementTypeI4:      pe.ElementTypeI4,
	pe.ElementTypeU4:      pe.ElementTypeU4,
	pe.ElementTypeI8:      pe.ElementTypeI8,
	pe.ElementTypeU8:      pe.ElementTypeU8,
	pe.ElementTypeR4:      pe.ElementTypeR4,
	pe.ElementTypeR8:      pe.ElementTypeR8,
	pe.ElementTypeString:  pe.ElementTypeString,
	pe.ElementTypeI:       pe.ElementTypeI,
	pe.ElementTypeU:       pe.ElementTypeU,
	pe.ElementTypeObject:  pe.ElementTypeObject,
}

// TypeTokenEncoder resolves a loader type handle to an encode_type_token
// result (§4.1); supplied by the tables context, which is the only thing
// that knows every table's assigned ids.
type TypeTokenEncoder func(pe.TypeHandle) (uint32, error)

// SignatureTable is the content-addressed signature blob of §4.4: a single
// growing byte slice, offsets into which are handed out as ids.
type SignatureTable struct {
	blob []byte
}

// NewSignatureTable returns an empty signature blob.
func NewSignatureTable() *SignatureTable {
	return &SignatureTable{}
}

// GetOrCreate implements §4.4's get_or_create: exact match, else sub-match
// scan of the whole interned blob, else append. Deliberately the full
// O(total_blob) linear scan the section calls for — no suffix index, to
// stay provably identical to the documented behavior (recorded as an Open
// Question decision in DESIGN.md).
func (st *SignatureTable) GetOrCreate(sig []byte) uint32 {
	if len(sig) == 0 {
		return 0
	}
	if i := bytes.Index(st.blob, sig); i >= 0 {
		return uint32(i)
	}
	offset := uint32(len(st.blob))
	st.blob = append(st.blob, sig...)
	return offset
}

// Write returns the interned signature blob in its current, final form.
func (st *SignatureTable) Write() []byte {
	return st.blob
}

// encodeTypeInfo writes §4.4's type-info production for t into buf, using
// order to encode any embedded sub-type-token (little-endian for method
// signatures, big-endian everywhere else, per §6).
func encodeTypeInfo(buf *bytes.Buffer, t pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool), order binary.ByteOrder) error {
	if code, ok := primitiveMap[t.Kind]; ok {
		buf.WriteByte(code)
		return nil
	}

	switch t.Kind {
	case pe.ElementTypeByRef:
		buf.WriteByte(DataTypeByRef)
		return encodeTypeInfo(buf, *t.Elem, resolve, resolveHandle, expandEnum, order)

	case pe.ElementTypeClass:
		buf.WriteByte(DataTypeClass)
		return writeSubTypeToken(buf, t, resolve, resolveHandle, order)

	case pe.ElementTypeValueType:
		if underlying, isEnum := expandEnum(t); isEnum {
			return encodeTypeInfo(buf, underlying.Type, resolve, resolveHandle, expandEnum, order)
		}
		buf.WriteByte(DataTypeValueType)
		return writeSubTypeToken(buf, t, resolve, resolveHandle, order)

	case pe.ElementTypeSzArray:
		buf.WriteByte(DataTypeSzArray)
		return encodeTypeInfo(buf, *t.Elem, resolve, resolveHandle, expandEnum, order)

	default:
		buf.WriteByte(DataTypeUnknown)
		return nil
	}
}

func writeSubTypeToken(buf *bytes.Buffer, t pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), order binary.ByteOrder) error {
	h, ok := resolveHandle(t)
	if !ok {
		return ErrUnresolvedReference
	}
	tok, err := resolve(h)
	if err != nil {
		return err
	}
	var tmp [4]byte
	order.PutUint32(tmp[:], tok)
	buf.Write(tmp[:])
	return nil
}

// EncodeFieldSig builds a field-ref/field-def signature: 0x06 then
// type-info, big-endian sub-type-tokens.
func EncodeFieldSig(t pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(0x06)
	if err := encodeTypeInfo(&buf, t, resolve, resolveHandle, expandEnum, binary.BigEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMethodSig builds a method-ref/def signature: has-this flag byte,
// param count, return type-info, param type-infos, little-endian
// sub-type-tokens.
func EncodeMethodSig(sig pe.MethodSig, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	if sig.CallingConvention&pe.SigHasThis != 0 {
		buf.WriteByte(0x20)
	} else {
		buf.WriteByte(0x00)
	}
	buf.WriteByte(byte(len(sig.Params)))
	if err := encodeTypeInfo(&buf, sig.RetType, resolve, resolveHandle, expandEnum, binary.LittleEndian); err != nil {
		return nil, err
	}
	for _, p := range sig.Params {
		if err := encodeTypeInfo(&buf, p, resolve, resolveHandle, expandEnum, binary.LittleEndian); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeLocalVarSig builds a locals signature: concatenated type-info per
// local, big-endian sub-type-tokens, no leading byte.
func EncodeLocalVarSig(locals []pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	for _, l := range locals {
		if err := encodeTypeInfo(&buf, l, resolve, resolveHandle, expandEnum, binary.BigEndian); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeInterfaceListSig builds a type-def's interface list signature:
// count then sub-type-info per interface, big-endian sub-type-tokens.
func EncodeInterfaceListSig(ifaces []pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(ifaces)))
	for _, t := range ifaces {
		if err := encodeTypeInfo(&buf, t, resolve, resolveHandle, expandEnum, binary.BigEndian); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeTypeSpecSig builds a type-spec's signature: bare type-info,
// big-endian sub-type-tokens.
func EncodeTypeSpecSig(t pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTypeInfo(&buf, t, resolve, resolveHandle, expandEnum, binary.BigEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMethodSpecSig builds a generic method instantiation's argument
// list: count then sub-type-info per type argument, big-endian
// sub-type-tokens, the same shape as EncodeInterfaceListSig — the owning
// MethodSpec row already names which generic method this instantiates,
// so the blob itself carries only the argument list.
func EncodeMethodSpecSig(args []pe.SigType, resolve TypeTokenEncoder, resolveHandle func(pe.SigType) (pe.TypeHandle, bool), expandEnum func(pe.SigType) (pe.FieldSig, bool)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(args)))
	for _, a := range args {
		if err := encodeTypeInfo(&buf, a, resolve, resolveHandle, expandEnum, binary.BigEndian); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeDefaultFieldValue builds a Constant table value blob: length,
// 0x00, then raw bytes.
func EncodeDefaultFieldValue(raw []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(raw)))
	buf.WriteByte(0x00)
	buf.Write(raw)
	return buf.Bytes()
}
