// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// This file defines the object graph the nano lowering pipeline consumes:
// a resolved, loader-level view of the subset of ECMA-335 metadata tables
// the lowering core cares about (AssemblyRef, TypeRef, TypeDef, Field,
// MethodDef, Param, InterfaceImpl, MemberRef, Constant, CustomAttribute,
// StandAloneSig, TypeSpec, NestedClass, GenericParam, MethodSpec,
// ManifestResource). Row indices are one-based, as in the raw tables;
// zero means "absent" throughout.

// TypeHandle is a tagged union over the four ways a type can be named from
// inside a method body or another type's Extends/Interfaces list: an
// external reference, a local definition, an instantiated/constructed
// type (TypeSpec), or a generic parameter of the enclosing type or method.
type TypeHandle struct {
	Kind            TypeHandleKind
	RefRow          uint32 // valid when Kind == TypeHandleRef
	DefRow          uint32 // valid when Kind == TypeHandleDef
	SpecRow         uint32 // valid when Kind == TypeHandleSpec
	GenericOwnerDef uint32 // valid when Kind == TypeHandleGenericParam, TypeDef row of the owner (0 if owner is a method)
	GenericOwnerMethod uint32 // valid when Kind == TypeHandleGenericParam and the owner is a method
	GenericIndex    uint32 // valid when Kind == TypeHandleGenericParam
}

// TypeHandleKind discriminates TypeHandle.
type TypeHandleKind byte

const (
	TypeHandleNone TypeHandleKind = iota
	TypeHandleRef
	TypeHandleDef
	TypeHandleSpec
	TypeHandleGenericParam
)

// AssemblyRefInfo is a resolved AssemblyRef row: the external assembly an
// imported type or member is scoped to.
type AssemblyRefInfo struct {
	Name           string
	Culture        string
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	PublicKeyToken []byte
}

// TypeRefInfo is a resolved TypeRef row: a reference to a type defined
// outside this module, scoped either to an AssemblyRef or to an enclosing
// TypeRef (nested external types).
type TypeRefInfo struct {
	Name      string
	Namespace string
	// ScopeIsAssembly is true when Scope indexes AssemblyRefs, false when it
	// indexes a parent TypeRef row (a nested external type), matching
	// §3's rule that a nested external type's scope is its enclosing
	// TypeRef id OR'd with the external bit downstream.
	ScopeIsAssembly bool
	AssemblyRefRow  uint32
	ParentTypeRef   uint32
}

// FieldInfo is a resolved Field row owned by some TypeDef.
type FieldInfo struct {
	Name      string
	Flags     uint16
	Signature FieldSig
	RawSig    []byte
}

// ParamInfo is a resolved Param row owned by some MethodDef.
type ParamInfo struct {
	Name     string
	Flags    uint16
	Sequence uint16
}

// MethodDefInfo is a resolved MethodDef row owned by some TypeDef.
type MethodDefInfo struct {
	Name        string
	Flags       uint16
	ImplFlags   uint16
	RVA         uint32
	Signature   MethodSig
	RawSig      []byte
	Params      []ParamInfo
	GenericRows []uint32 // GenericParam rows owned by this method

	// Populated when RVA != 0 and the method body was decoded.
	MaxStack          uint16
	InitLocals        bool
	Locals            []SigType
	Instructions      []Instruction
	ExceptionHandlers []ExceptionHandler
}

// OperandKind classifies what an Instruction.Operand means, matching the
// operand categories the byte-code table's rewriting rules dispatch on.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandInlineMethod
	OperandInlineField
	OperandInlineType
	OperandInlineString
	OperandInlineTok
	OperandInlineSig
	OperandBranch
	OperandImmediate // numeric literals: I4/I8/R4/R8/switch count, var/arg index, ...
)

// Instruction is one decoded CIL instruction from a method body, source
// order preserved.
type Instruction struct {
	Offset      int    // byte offset of this instruction within the original body
	Length      int    // total encoded length including opcode and operand
	Opcode      uint16 // single-byte opcode, or 0xFE00|second-byte for two-byte opcodes
	OperandKind OperandKind
	// Token is the raw metadata token for InlineMethod/Field/Type/Tok/Sig
	// operands, the raw user-string token (0x70 tag, "#US" heap offset in
	// the low 24 bits) for InlineString, or the raw
	// immediate/branch-target value otherwise.
	Token int64
	// Targets holds the (already-absolute) branch targets for `switch`,
	// which encodes N relative offsets instead of one.
	Targets []int32
}

// ExceptionHandler describes one protected region of a method body,
// §II.25.4.6.
type ExceptionHandler struct {
	Kind             uint32 // CorExceptionClause: 0 catch, 1 filter, 2 finally, 4 fault
	TryOffset        int
	TryLength        int
	HandlerOffset    int
	HandlerLength    int
	ClassToken       uint32 // catch clause: TypeDefOrRef/TypeSpec metadata token
	FilterOffset     int    // filter clause: byte offset of the filter expression
}

// InterfaceImplInfo records that a TypeDef implements an interface, named
// by a TypeDefOrRef handle.
type InterfaceImplInfo struct {
	Interface TypeHandle
}

// MemberRefInfo is a resolved MemberRef row: an externally-scoped field or
// method reference. Class resolves via the MemberRefParent coded index to
// a TypeDef, TypeRef, ModuleRef or TypeSpec row.
type MemberRefInfo struct {
	Name          string
	ClassHandle   TypeHandle
	ClassIsMethod bool // true when Class points at a MethodDef (vararg call-site sig), rare but legal
	RawSig        []byte
	// One of FieldSignature/MethodSig is populated depending on the
	// blob's calling-convention prefix.
	IsField        bool
	FieldSignature FieldSig
	MethodSig      MethodSig
}

// ConstantInfo is a resolved Constant row: a compile-time default value
// attached to a Field, Param or Property.
type ConstantInfo struct {
	Type        byte // ElementType* code of the stored value
	ParentField uint32
	ParentParam uint32
	Value       []byte
}

// CustomAttributeInfo is a resolved CustomAttribute row.
type CustomAttributeInfo struct {
	// ParentTable/ParentRow name the owner via the HasCustomAttribute coded
	// index (table index, row).
	ParentTable int
	ParentRow   uint32
	// CtorIsMethodDef distinguishes a local .ctor MethodDef from an
	// imported MemberRef .ctor, per the CustomAttributeType coded index.
	CtorIsMethodDef bool
	CtorRow         uint32
	FixedArgs       []byte // raw blob, undecoded (the encoder only needs to copy it)
}

// TypeSpecInfo is a resolved TypeSpec row: an instantiated/constructed
// type used where a plain TypeDefOrRef cannot express the shape (generic
// instantiations, arrays, pointers).
type TypeSpecInfo struct {
	Signature SigType
	RawSig    []byte
}

// NestedClassInfo records that a TypeDef is lexically nested in another.
type NestedClassInfo struct {
	NestedTypeDefRow    uint32
	EnclosingTypeDefRow uint32
}

// GenericParamInfo is a resolved GenericParam row, owned by a TypeDef or a
// MethodDef (the TypeOrMethodDef coded index).
type GenericParamInfo struct {
	Number        uint16
	Flags         uint16
	Name          string
	OwnerIsMethod bool
	OwnerRow      uint32
}

// MethodSpecInfo is a resolved MethodSpec row: a generic method
// instantiation, naming the generic method via MethodDefOrRef and the
// type arguments via a blob decoded the same way as a GenericInst.
type MethodSpecInfo struct {
	MethodIsDef   bool
	MethodRow     uint32
	Instantiation SigType
	RawSig        []byte
}

// ManifestResourceInfo is a resolved ManifestResource row: an embedded
// (or externally-linked) resource blob carried by the assembly.
type ManifestResourceInfo struct {
	Name  string
	Flags uint32
	// Offset is meaningful only when the resource is embedded in this
	// module (Implementation coded index is null); otherwise it's the
	// index of the owning File or AssemblyRef row and Offset is unused.
	Offset               uint32
	Embedded             bool
	ImplementationIsFile bool
	ImplementationRow    uint32
	Data                 []byte
}

// TypeDefInfo is a resolved TypeDef row: a type declared in this module.
type TypeDefInfo struct {
	Name       string
	Namespace  string
	Flags      uint32
	Extends    TypeHandle // zero value (TypeHandleNone) for System.Object / interfaces / <Module>
	Fields     []uint32   // Field rows owned by this type, in table order
	Methods    []uint32   // MethodDef rows owned by this type, in table order
	Interfaces []uint32   // InterfaceImpl rows whose Class is this type
	NestedIn   uint32     // enclosing TypeDef row, 0 if top-level
	Generics   []uint32   // GenericParam rows owned by this type
}

// Assembly is the fully-resolved object graph for one module, built by
// Load from a parsed pe.File. Every slice is indexed by (row-1);
// row 0 is never a valid entry for any table.
type Assembly struct {
	ModuleName string
	ModuleMvid [16]byte

	// UserStrings is the fully-decoded "#US" heap, keyed by each entry's
	// starting byte offset (the same offset an ldstr instruction's Token
	// carries in its low 24 bits). Decoded eagerly at load time since the
	// lowering core never holds a live *File to resolve offsets lazily.
	UserStrings map[uint32]string

	AssemblyRefs      []AssemblyRefInfo
	TypeRefs          []TypeRefInfo
	TypeDefs          []TypeDefInfo
	Fields            []FieldInfo
	Methods           []MethodDefInfo
	InterfaceImpls    []InterfaceImplInfo
	MemberRefs        []MemberRefInfo
	Constants         []ConstantInfo
	CustomAttributes  []CustomAttributeInfo
	TypeSpecs         []TypeSpecInfo
	NestedClasses     []NestedClassInfo
	GenericParams     []GenericParamInfo
	MethodSpecs       []MethodSpecInfo
	ManifestResources []ManifestResourceInfo
}
