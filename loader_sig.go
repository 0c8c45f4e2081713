// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "fmt"

// Element type codes from ECMA-335 §II.23.1.16, the subset the nano loader
// needs to walk field, property, method, local and standalone signatures.
const (
	ElementTypeEnd          = 0x00
	ElementTypeVoid         = 0x01
	ElementTypeBoolean      = 0x02
	ElementTypeChar         = 0x03
	ElementTypeI1           = 0x04
	ElementTypeU1           = 0x05
	ElementTypeI2           = 0x06
	ElementTypeU2           = 0x07
	ElementTypeI4           = 0x08
	ElementTypeU4           = 0x09
	ElementTypeI8           = 0x0a
	ElementTypeU8           = 0x0b
	ElementTypeR4           = 0x0c
	ElementTypeR8           = 0x0d
	ElementTypeString       = 0x0e
	ElementTypePtr          = 0x0f
	ElementTypeByRef        = 0x10
	ElementTypeValueType    = 0x11
	ElementTypeClass        = 0x12
	ElementTypeVar          = 0x13
	ElementTypeArray        = 0x14
	ElementTypeGenericInst  = 0x15
	ElementTypeTypedByRef   = 0x16
	ElementTypeI            = 0x18
	ElementTypeU            = 0x19
	ElementTypeFnPtr        = 0x1b
	ElementTypeObject       = 0x1c
	ElementTypeSzArray      = 0x1d
	ElementTypeMVar         = 0x1e
	ElementTypeCModReqd     = 0x1f
	ElementTypeCModOpt      = 0x20
	ElementTypeInternal     = 0x21
	ElementTypeModifier     = 0x40
	ElementTypeSentinel     = 0x41
	ElementTypePinned       = 0x45
)

// Signature calling conventions, low nibble of the first signature byte,
// §II.23.2.1.
const (
	SigDefault    = 0x00
	SigC          = 0x01
	SigStdCall    = 0x02
	SigThisCall   = 0x03
	SigFastCall   = 0x04
	SigVarArg     = 0x05
	SigGeneric    = 0x10
	SigHasThis    = 0x20
	SigExplicitThis = 0x40
)

// SigType is the decoded shape of a signature type node. It is a tagged
// union in spirit: exactly the fields relevant to Kind are meaningful.
type SigType struct {
	Kind       byte      // one of the ElementType* constants
	Token      uint32    // for ValueType/Class: a TypeDefOrRef coded index
	Elem       *SigType  // for ByRef/Ptr/SzArray/array element types
	ArrayRank  uint32    // for Array
	ArraySizes []uint32  // for Array
	ArrayLoBnd []int32   // for Array
	GenArgs    []SigType // for GenericInst
	VarIndex   uint32    // for Var/MVar
	Mods       []uint32  // CMOD_REQD/CMOD_OPT tokens encountered before Elem
}

func (t SigType) String() string {
	switch t.Kind {
	case ElementTypeValueType, ElementTypeClass:
		return fmt.Sprintf("token(%#x)", t.Token)
	case ElementTypeSzArray:
		return t.Elem.String() + "[]"
	case ElementTypeByRef:
		return t.Elem.String() + "&"
	case ElementTypePtr:
		return t.Elem.String() + "*"
	case ElementTypeVar:
		return fmt.Sprintf("!%d", t.VarIndex)
	case ElementTypeMVar:
		return fmt.Sprintf("!!%d", t.VarIndex)
	default:
		return fmt.Sprintf("elem(%#x)", t.Kind)
	}
}

// MethodSig is a decoded method (or property/MethodSpec instantiation)
// signature, §II.23.2.1 / §II.23.2.15.
type MethodSig struct {
	CallingConvention byte
	GenericParamCount uint32
	RetType           SigType
	Params            []SigType
}

// FieldSig is a decoded field signature, §II.23.2.4.
type FieldSig struct {
	CustomMods []uint32
	Type       SigType
}

// LocalVarSig is a decoded StandAloneSig used for a method's local variable
// block, §II.23.2.6.
type LocalVarSig struct {
	Locals []SigType
}

// decodeSigType decodes a single type node from a signature blob starting at
// pos, per §II.23.2.12.
func decodeSigType(blob []byte, pos int) (SigType, int, error) {
	if pos >= len(blob) {
		return SigType{}, pos, ErrHeapOffsetOutOfRange
	}
	var t SigType
	for blob[pos] == ElementTypeCModReqd || blob[pos] == ElementTypeCModOpt {
		var tok uint32
		var err error
		pos++
		tok, pos, err = readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.Mods = append(t.Mods, tok)
	}

	kind := blob[pos]
	pos++
	t.Kind = kind

	switch kind {
	case ElementTypeValueType, ElementTypeClass:
		tok, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.Token = tok
		pos = next

	case ElementTypeVar, ElementTypeMVar:
		idx, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.VarIndex = idx
		pos = next

	case ElementTypePtr, ElementTypeByRef, ElementTypeSzArray, ElementTypePinned:
		elem, next, err := decodeSigType(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.Elem = &elem
		pos = next

	case ElementTypeArray:
		elem, next, err := decodeSigType(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.Elem = &elem
		pos = next

		rank, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.ArrayRank = rank
		pos = next

		numSizes, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		pos = next
		for i := uint32(0); i < numSizes; i++ {
			var sz uint32
			sz, pos, err = readCompressedUint(blob, pos)
			if err != nil {
				return t, pos, err
			}
			t.ArraySizes = append(t.ArraySizes, sz)
		}

		numLoBnds, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		pos = next
		for i := uint32(0); i < numLoBnds; i++ {
			var lo uint32
			lo, pos, err = readCompressedUint(blob, pos)
			if err != nil {
				return t, pos, err
			}
			t.ArrayLoBnd = append(t.ArrayLoBnd, int32(lo))
		}

	case ElementTypeGenericInst:
		if pos >= len(blob) {
			return t, pos, ErrHeapOffsetOutOfRange
		}
		genKind := blob[pos]
		pos++
		tok, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		t.Kind = ElementTypeGenericInst
		t.Token = tok
		t.VarIndex = uint32(genKind) // ValueType vs Class of the generic base
		pos = next

		argc, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return t, pos, err
		}
		pos = next
		for i := uint32(0); i < argc; i++ {
			var arg SigType
			arg, pos, err = decodeSigType(blob, pos)
			if err != nil {
				return t, pos, err
			}
			t.GenArgs = append(t.GenArgs, arg)
		}

	case ElementTypeFnPtr:
		sig, next, err := decodeMethodSig(blob, pos)
		if err != nil {
			return t, pos, err
		}
		_ = sig
		pos = next

	default:
		// Primitive element types (Void, Boolean, ..., Object, TypedByRef,
		// I, U, String) need no further bytes.
	}
	return t, pos, nil
}

// decodeMethodSig decodes a full method, property or MethodSpec
// instantiation signature.
func decodeMethodSig(blob []byte, pos int) (MethodSig, int, error) {
	var sig MethodSig
	if pos >= len(blob) {
		return sig, pos, ErrHeapOffsetOutOfRange
	}
	sig.CallingConvention = blob[pos]
	pos++

	if sig.CallingConvention&SigGeneric != 0 {
		n, next, err := readCompressedUint(blob, pos)
		if err != nil {
			return sig, pos, err
		}
		sig.GenericParamCount = n
		pos = next
	}

	paramCount, pos, err := readCompressedUint(blob, pos)
	if err != nil {
		return sig, pos, err
	}

	ret, pos, err := decodeSigType(blob, pos)
	if err != nil {
		return sig, pos, err
	}
	sig.RetType = ret

	for i := uint32(0); i < paramCount; i++ {
		if pos < len(blob) && blob[pos] == ElementTypeSentinel {
			pos++
		}
		var p SigType
		p, pos, err = decodeSigType(blob, pos)
		if err != nil {
			return sig, pos, err
		}
		sig.Params = append(sig.Params, p)
	}
	return sig, pos, nil
}

// decodeFieldSig decodes a field (or CustomAttribute FieldOrPropType) signature.
func decodeFieldSig(blob []byte) (FieldSig, error) {
	var sig FieldSig
	pos := 0
	if pos >= len(blob) || blob[pos] != 0x06 {
		return sig, fmt.Errorf("field signature missing FIELD prefix")
	}
	pos++
	for pos < len(blob) && (blob[pos] == ElementTypeCModReqd || blob[pos] == ElementTypeCModOpt) {
		var tok uint32
		var err error
		pos++
		tok, pos, err = readCompressedUint(blob, pos)
		if err != nil {
			return sig, err
		}
		sig.CustomMods = append(sig.CustomMods, tok)
	}
	t, _, err := decodeSigType(blob, pos)
	if err != nil {
		return sig, err
	}
	sig.Type = t
	return sig, nil
}

// decodeLocalVarSig decodes a StandAloneSig blob used to describe a method
// body's local variables, §II.23.2.6.
func decodeLocalVarSig(blob []byte) (LocalVarSig, error) {
	var sig LocalVarSig
	if len(blob) == 0 || blob[0] != 0x07 {
		return sig, fmt.Errorf("local var signature missing LOCAL_SIG prefix")
	}
	pos := 1
	count, pos, err := readCompressedUint(blob, pos)
	if err != nil {
		return sig, err
	}
	for i := uint32(0); i < count; i++ {
		var t SigType
		t, pos, err = decodeSigType(blob, pos)
		if err != nil {
			return sig, err
		}
		sig.Locals = append(sig.Locals, t)
	}
	return sig, nil
}

// decodeTypeSpecSig decodes a TypeSpec table row's blob, which is a bare
// type node (no calling-convention byte), §II.23.2.14.
func decodeTypeSpecSig(blob []byte) (SigType, error) {
	t, _, err := decodeSigType(blob, 0)
	return t, err
}
