// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"fmt"

	pe "github.com/saferwall/nanometa"
)

// fieldAttrStatic and methodAttrVirtual/Static are the CorFieldAttr/
// CorMethodAttr bits the ordering rules in §4.2/§4.5 key off of.
const (
	fieldAttrStatic    = 0x0010
	methodAttrStatic   = 0x0010
	methodAttrVirtual  = 0x0040
)

// Context is the tables context §4.1 describes: the single object that
// owns every output table, builds them in the required order, and
// answers the cross-table lookups each table's construction needs.
// Once Build returns, every table's Write method produces that
// section's final bytes.
type Context struct {
	asm      *pe.Assembly
	ignored  *IgnoredAttributeSet
	excluded *ExcludedTypeSet
	gate     *MinimizeGate

	AssemblyRefs  *AssemblyRefTable
	TypeRefs      *TypeRefTable
	FieldRefs     *FieldRefTable
	MethodRefs    *MethodRefTable
	TypeDefs      *TypeDefTable
	FieldDefs     *FieldDefTable
	MethodDefs    *MethodDefTable
	Attributes    *AttributesTable
	TypeSpecs     *TypeSpecTable
	MethodSpecs   *MethodSpecTable
	Resources     *ResourcesTable
	ResourceData  *ResourceDataTable
	Signatures    *SignatureTable
	Strings       *StringTable
	ByteCode      *ByteCodeTable
	ResourceFiles *ResourceFileTable

	typeReachable   map[uint32]bool
	fieldReachable  map[uint32]bool
	methodReachable map[uint32]bool
	constantField   map[uint32]bool // 0-based Field row -> has a Constant row

	typeSpecByRow   map[uint32]uint16 // 0-based asm.TypeSpecs row -> assigned id, memoizes resolveTypeSpec
	methodSpecByRow map[uint32]uint16 // 0-based asm.MethodSpecs row -> assigned id, memoizes resolveMethodSpecID
}

// NewContext constructs an empty tables context over a loaded assembly,
// wiring every table to the same gate so none of them can write before
// minimization completes, §4.1's construction order and §5's gate rule.
func NewContext(asm *pe.Assembly, excludedFQNs []string) *Context {
	gate := &MinimizeGate{}
	return &Context{
		asm:      asm,
		ignored:  NewIgnoredAttributeSet(),
		excluded: NewExcludedTypeSet(excludedFQNs),
		gate:     gate,

		AssemblyRefs:  NewAssemblyRefTable(gate),
		TypeRefs:      NewTypeRefTable(gate),
		FieldRefs:     NewFieldRefTable(gate),
		MethodRefs:    NewMethodRefTable(gate),
		TypeDefs:      NewTypeDefTable(gate),
		FieldDefs:     NewFieldDefTable(gate),
		MethodDefs:    NewMethodDefTable(gate),
		Attributes:    NewAttributesTable(gate),
		TypeSpecs:     NewTypeSpecTable(gate),
		MethodSpecs:   NewMethodSpecTable(gate),
		Resources:     NewResourcesTable(gate),
		ResourceData:  NewResourceDataTable(gate),
		Signatures:    NewSignatureTable(),
		Strings:       NewStringTable(),
		ByteCode:      NewByteCodeTable(gate),
		ResourceFiles: NewResourceFileTable(gate),

		typeSpecByRow:   make(map[uint32]uint16),
		methodSpecByRow: make(map[uint32]uint16),
	}
}

// Build drives §4.1's full construction order: it runs the minimizer,
// orders the surviving types, walks them once inserting type-def,
// field-def and method-def rows (discovering and interning every
// reference/signature/attribute/resource a survivor touches along the
// way), then flips the gate so every table's Write becomes live.
//
// explicitOrder is an optional caller-supplied type emission order
// (fully qualified names); nil falls back to TypeOrderer's computed
// order.
func (c *Context) Build(explicitOrder []string) error {
	m := NewMinimizer(c.asm, c.excluded)
	c.typeReachable, c.fieldReachable, c.methodReachable = m.Run()
	c.buildConstantIndex()

	order := NewTypeOrderer(c.asm).Order(explicitOrder)
	for _, row := range order {
		if !c.typeReachable[row] {
			continue
		}
		if err := c.buildType(row); err != nil {
			return fmt.Errorf("type %s: %w", fqnOf(c.asm, row), err)
		}
	}

	if err := c.buildAttributes(); err != nil {
		return err
	}
	if err := c.buildResources(); err != nil {
		return err
	}

	c.gate.Set()
	return nil
}

func (c *Context) buildConstantIndex() {
	c.constantField = make(map[uint32]bool, len(c.asm.Constants))
	for _, k := range c.asm.Constants {
		if k.ParentField != 0 {
			c.constantField[k.ParentField-1] = true
		}
	}
}

// buildType inserts one type-def row and, interleaved in the same
// pass, the field-def and method-def rows it owns — firstFieldID and
// firstMethodID are contiguous-range pointers into FieldDefs/MethodDefs,
// so every survivor's members must be appended before the next type's,
// §4.5's type-def record.
func (c *Context) buildType(row uint32) error {
	t := c.asm.TypeDefs[row]

	extendsToken := uint16(0)
	if t.Extends.Kind != pe.TypeHandleNone {
		tok, err := c.encodeTypeToken(t.Extends)
		if err != nil {
			return fmt.Errorf("extends: %w", err)
		}
		extendsToken = uint16(tok)
	}

	enclosingTypeID := IDAbsent
	if t.NestedIn != 0 {
		id, err := c.resolveLocalTypeID(t.NestedIn - 1)
		if err != nil {
			return fmt.Errorf("enclosing type: %w", err)
		}
		enclosingTypeID = id
	}

	interfaceSigID := IDAbsent
	if len(t.Interfaces) > 0 {
		sig, err := c.encodeInterfaceListSig(t.Interfaces)
		if err != nil {
			return fmt.Errorf("interfaces: %w", err)
		}
		interfaceSigID = uint16(c.Signatures.GetOrCreate(sig))
	}

	firstFieldID, err := c.buildFields(t)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	firstMethodID, virtualCount, instanceCount, staticCount, err := c.buildMethods(t)
	if err != nil {
		return fmt.Errorf("methods: %w", err)
	}

	rec := typeDefRecord{
		nameID:              c.internString(t.Name, true),
		namespaceID:         c.internString(t.Namespace, true),
		extendsToken:        extendsToken,
		enclosingTypeID:     enclosingTypeID,
		interfaceSigID:      interfaceSigID,
		firstFieldID:        firstFieldID,
		firstMethodID:       firstMethodID,
		virtualMethodCount:  clampU8(virtualCount),
		instanceMethodCount: clampU8(instanceCount),
		staticMethodCount:   clampU8(staticCount),
		dataType:            c.classifyTypeDef(t),
		flags:               t.Flags,
	}
	c.TypeDefs.Insert(row, rec)
	return nil
}

// classifyTypeDef assigns typeDefRecord.dataType, a field spec.md
// leaves open (recorded as a design decision in DESIGN.md): 0 class,
// 1 value type, 2 enum, 3 interface. Enum and value-type are both
// ECMA value types; an enum is distinguished because its "value__"
// field carries the runtime representation the way expandEnum uses.
func (c *Context) classifyTypeDef(t pe.TypeDefInfo) uint8 {
	const typeAttrInterface = 0x00000020
	if t.Flags&typeAttrInterface != 0 {
		return 3
	}
	if t.Extends.Kind != pe.TypeHandleRef {
		return 0 // System.Object, or a base defined in this same module (never a value type)
	}
	switch typeRefFQN(c.asm.TypeRefs[t.Extends.RefRow-1]) {
	case "System.Enum":
		return 2
	case "System.ValueType":
		return 1
	default:
		return 0
	}
}

func clampU8(n int) uint8 {
	if n > 0xFF {
		return 0xFF
	}
	return uint8(n)
}

// buildFields inserts this type's surviving field-def rows, static
// group first then instance, source order preserved within each group,
// §4.2's field ordering rule. Fields carrying a compile-time constant
// are excluded entirely, §4.5 scenario 3 — so no emitted field-def ever
// has a default-value-sig-id, which this implementation always leaves
// IDAbsent.
func (c *Context) buildFields(t pe.TypeDefInfo) (firstFieldID uint16, err error) {
	var statics, instances []uint32
	for _, fr1 := range t.Fields {
		fr0 := fr1 - 1
		if c.constantField[fr0] {
			continue
		}
		f := c.asm.Fields[fr0]
		if f.Flags&fieldAttrStatic != 0 {
			statics = append(statics, fr0)
		} else {
			instances = append(instances, fr0)
		}
	}
	ordered := make([]uint32, 0, len(statics)+len(instances))
	ordered = append(ordered, statics...)
	ordered = append(ordered, instances...)

	if len(ordered) == 0 {
		return IDAbsent, nil
	}
	for i, fr0 := range ordered {
		f := c.asm.Fields[fr0]
		sig, err := EncodeFieldSig(f.Signature.Type, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", f.Name, err)
		}
		sigID := uint16(c.Signatures.GetOrCreate(sig))
		id := c.FieldDefs.Insert(fr0, c.internString(f.Name, true), sigID, f.Flags, IDAbsent)
		if i == 0 {
			firstFieldID = id
		}
	}
	return firstFieldID, nil
}

// buildMethods inserts this type's surviving method-def rows, ordered
// virtual then instance then static, source order preserved within
// each group, §4.2's method ordering rule. Method bodies are rewritten
// into the byte-code stream as each method is inserted, since operand
// resolution for same-module callees depends only on tables already
// built earlier in the construction order.
func (c *Context) buildMethods(t pe.TypeDefInfo) (firstMethodID uint16, virtualCount, instanceCount, staticCount int, err error) {
	var virtuals, instances, statics []uint32
	for _, mr1 := range t.Methods {
		mr0 := mr1 - 1
		m := c.asm.Methods[mr0]
		switch {
		case m.Flags&methodAttrVirtual != 0:
			virtuals = append(virtuals, mr0)
		case m.Flags&methodAttrStatic != 0:
			statics = append(statics, mr0)
		default:
			instances = append(instances, mr0)
		}
	}
	virtualCount, instanceCount, staticCount = len(virtuals), len(instances), len(statics)

	ordered := make([]uint32, 0, len(virtuals)+len(instances)+len(statics))
	ordered = append(ordered, virtuals...)
	ordered = append(ordered, instances...)
	ordered = append(ordered, statics...)

	if len(ordered) == 0 {
		return IDAbsent, 0, 0, 0, nil
	}
	for i, mr0 := range ordered {
		id, err := c.buildMethod(mr0)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if i == 0 {
			firstMethodID = id
		}
	}
	return firstMethodID, virtualCount, instanceCount, staticCount, nil
}

func (c *Context) buildMethod(row uint32) (uint16, error) {
	m := c.asm.Methods[row]

	sig, err := EncodeMethodSig(m.Signature, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
	if err != nil {
		return 0, fmt.Errorf("method %s: %w", m.Name, err)
	}
	sigID := uint16(c.Signatures.GetOrCreate(sig))

	localsSigID := IDAbsent
	var rva uint32
	if m.RVA != 0 {
		if len(m.Locals) > 0 {
			localsSig, err := EncodeLocalVarSig(m.Locals, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
			if err != nil {
				return 0, fmt.Errorf("method %s locals: %w", m.Name, err)
			}
			localsSigID = uint16(c.Signatures.GetOrCreate(localsSig))
		}
		rva, _, err = c.ByteCode.AppendMethod(&m, c)
		if err != nil {
			return 0, fmt.Errorf("method %s body: %w", m.Name, err)
		}
	}

	flags := uint32(m.Flags) | uint32(m.ImplFlags)<<16
	return c.MethodDefs.Insert(row, c.internString(m.Name, true), rva, flags,
		clampU8(len(m.Signature.Params)), clampU8(len(m.Locals)), localsSigID, sigID), nil
}

// buildAttributes emits §4.7's flat attribute-application list for
// every surviving type, field and method, skipping ctors the ignored-
// attribute set drops. Other owner kinds (Param, Assembly, Module, ...)
// are out of scope, matching §4.7's stated coverage.
func (c *Context) buildAttributes() error {
	for caRow, ca := range c.asm.CustomAttributes {
		var ownerTag TableTag
		var ownerID uint16
		switch ca.ParentTable {
		case pe.TypeDef:
			row := ca.ParentRow - 1
			if !c.typeReachable[row] {
				continue
			}
			id, ok := c.TypeDefs.TryGetID(row)
			if !ok {
				continue
			}
			ownerTag, ownerID = TblTypeDef, id
		case pe.Field:
			row := ca.ParentRow - 1
			id, ok := c.FieldDefs.TryGetID(row)
			if !ok {
				continue // dropped: unreachable owner or a compile-time-constant field
			}
			ownerTag, ownerID = TblFieldDef, id
		case pe.Method:
			row := ca.ParentRow - 1
			if !c.methodReachable[row] {
				continue
			}
			id, ok := c.MethodDefs.TryGetID(row)
			if !ok {
				continue
			}
			ownerTag, ownerID = TblMethodDef, id
		default:
			continue
		}

		ctorFQN, ok := c.attributeCtorFQN(ca)
		if !ok {
			continue
		}
		if c.ignored.Ignored(ctorFQN) {
			continue
		}
		ctorRefID, err := c.resolveMethodID(ca.CtorIsMethodDef, ca.CtorRow)
		if err != nil {
			if err == ErrUnresolvedReference {
				continue
			}
			return fmt.Errorf("attribute %s ctor: %w", ctorFQN, err)
		}
		// FixedArgs is kept as the raw ECMA-335 fixed-argument blob
		// rather than re-decoded into per-argument type-info records:
		// the nano runtime only needs to hand this blob to the
		// attribute's constructor unchanged, so there is nothing to
		// gain by parsing it just to re-serialize it identically.
		sigID := uint16(c.Signatures.GetOrCreate(ca.FixedArgs))
		c.Attributes.Add(ownerTag, ownerID, ctorRefID, sigID, ctorFQN, uint32(caRow))
	}
	return nil
}

// attributeCtorFQN names the attribute type a custom-attribute
// application constructs, for the ignored-attribute-set check and the
// compression sort key. Only a ctor expressed as a method on a TypeRef
// or local TypeDef is handled; anything else (e.g. a MemberRef scoped
// to a ModuleRef or vararg MethodDef Class) cannot name a type at all
// and is silently skipped, since §1's filter only ever targets named
// attribute types.
func (c *Context) attributeCtorFQN(ca pe.CustomAttributeInfo) (string, bool) {
	if ca.CtorIsMethodDef {
		row := ca.CtorRow - 1
		declaringRow, ok := c.declaringTypeOfMethod(row)
		if !ok {
			return "", false
		}
		return fqnOf(c.asm, declaringRow), true
	}
	mr := c.asm.MemberRefs[ca.CtorRow-1]
	switch mr.ClassHandle.Kind {
	case pe.TypeHandleRef:
		tr := c.asm.TypeRefs[mr.ClassHandle.RefRow-1]
		return typeRefFQN(tr), true
	case pe.TypeHandleDef:
		return fqnOf(c.asm, mr.ClassHandle.DefRow-1), true
	default:
		return "", false
	}
}

func (c *Context) declaringTypeOfMethod(methodRow0 uint32) (uint32, bool) {
	for i, t := range c.asm.TypeDefs {
		for _, mr1 := range t.Methods {
			if mr1-1 == methodRow0 {
				return uint32(i), true
			}
		}
	}
	return 0, false
}

// buildResources emits §4.6 area's resource tables: one resources
// entry per manifest resource, embedded payloads appended to the
// resource-data blob, file-linked ones pointed at a synthetic
// resource-file entry (this loader's object model carries no Files
// table at all, so the only identifying information available for a
// non-embedded resource is its own name — recorded as a known
// limitation in DESIGN.md).
func (c *Context) buildResources() error {
	for row, mr := range c.asm.ManifestResources {
		nameID := c.internString(mr.Name, true)
		var dataOffset, dataLength uint32
		if mr.Embedded {
			dataOffset = c.ResourceData.Append(mr.Data)
			dataLength = uint32(len(mr.Data))
		} else if mr.ImplementationIsFile {
			c.ResourceFiles.GetOrCreate(mr.Name, nameID)
		}
		c.Resources.Insert(uint32(row), nameID, uint16(mr.Flags), dataOffset, dataLength)
	}
	return nil
}

// internString interns s, routing through the constants table first
// when useConstants is set.
func (c *Context) internString(s string, useConstants bool) uint16 {
	return c.Strings.GetOrCreate(s, useConstants)
}

// resolveLocalTypeID returns the already-assigned type-def id for a
// same-module TypeDef row. It never inserts: the type orderer
// guarantees a type's declaring type and same-module interfaces are
// always built before it, §4.2's ordering invariant.
func (c *Context) resolveLocalTypeID(row uint32) (uint16, error) {
	id, ok := c.TypeDefs.TryGetID(row)
	if !ok {
		return 0, ErrUnresolvedReference
	}
	return id, nil
}

// encodeTypeToken implements §4.1's encode_type_token, resolving
// (lazily interning where needed) whichever table a handle's kind
// names.
func (c *Context) encodeTypeToken(h pe.TypeHandle) (uint32, error) {
	switch h.Kind {
	case pe.TypeHandleDef:
		id, err := c.resolveLocalTypeID(h.DefRow - 1)
		if err != nil {
			return 0, err
		}
		return encodeTypeToken(TagTypeDef, id), nil
	case pe.TypeHandleRef:
		id, err := c.resolveTypeRefID(h.RefRow)
		if err != nil {
			return 0, err
		}
		return encodeTypeToken(TagTypeRef, id), nil
	case pe.TypeHandleSpec:
		id, err := c.resolveTypeSpecID(h.SpecRow)
		if err != nil {
			return 0, err
		}
		return encodeTypeToken(TagTypeSpec, id), nil
	default:
		// TypeHandleGenericParam has no ECMA-335 TypeDefOrRef
		// equivalent as a wire-level type token; an owning TypeSpec's
		// signature carries a generic parameter as a Var/MVar element
		// type instead, which falls into §4.4's "else emit 0x00"
		// production rather than here.
		return 0, ErrUnsupportedConstruct
	}
}

// typeRefFQN reconstructs a TypeRef's fully-qualified name for table
// keying, the same convention fqnOf uses for TypeDefs.
func typeRefFQN(tr pe.TypeRefInfo) string {
	if tr.Namespace == "" {
		return tr.Name
	}
	return tr.Namespace + "." + tr.Name
}

// resolveTypeRefID interns a TypeRef row into the type-ref table,
// resolving its scope (an AssemblyRef, or an enclosing TypeRef for a
// nested external type, OR'd with the external bit per §3).
func (c *Context) resolveTypeRefID(row1 uint32) (uint16, error) {
	tr := c.asm.TypeRefs[row1-1]
	fqn := typeRefFQN(tr)
	if c.excluded.Excluded(fqn) {
		return 0, ErrUnresolvedReference
	}
	if id, ok := c.TypeRefs.TryGetID(fqn); ok {
		return id, nil
	}

	var scope uint16
	if tr.ScopeIsAssembly {
		id, err := c.resolveAssemblyRefID(tr.AssemblyRefRow)
		if err != nil {
			return 0, err
		}
		scope = id
	} else if tr.ParentTypeRef != 0 {
		parentID, err := c.resolveTypeRefID(tr.ParentTypeRef)
		if err != nil {
			return 0, err
		}
		scope = parentID | ExternalBit
	}

	nameID := c.internString(tr.Name, true)
	nsID := c.internString(tr.Namespace, true)
	return c.TypeRefs.GetOrCreate(fqn, nameID, nsID, scope), nil
}

func (c *Context) resolveAssemblyRefID(row1 uint32) (uint16, error) {
	ar := c.asm.AssemblyRefs[row1-1]
	if id, ok := c.AssemblyRefs.TryGetID(ar.Name); ok {
		return id, nil
	}
	nameID := c.internString(ar.Name, true)
	version := [2]uint16{ar.MajorVersion, ar.MinorVersion}
	return c.AssemblyRefs.GetOrCreate(ar.Name, nameID, version), nil
}

// resolveTypeSpecID interns a TypeSpec row by its encoded signature
// bytes, memoized by loader row since re-encoding an identical
// signature would otherwise still hit the signature table's content-
// addressed dedup (harmless, but wasted work).
func (c *Context) resolveTypeSpecID(row1 uint32) (uint16, error) {
	row0 := row1 - 1
	if id, ok := c.typeSpecByRow[row0]; ok {
		return id, nil
	}
	ts := c.asm.TypeSpecs[row0]
	sig, err := EncodeTypeSpecSig(ts.Signature, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
	if err != nil {
		return 0, err
	}
	sigID := uint16(c.Signatures.GetOrCreate(sig))
	id := c.TypeSpecs.GetOrCreate(sig, sigID)
	c.typeSpecByRow[row0] = id
	return id, nil
}

// resolveMethodSpecID interns a MethodSpec row, §4.8: the generic
// method it instantiates resolves through the same
// resolve_method_reference_id rule every other method reference slot
// uses (c.resolveMethodID), and its declaring type-spec id is only
// populated when the instantiated method is itself reached through a
// MemberRef whose class is a TypeSpec (a generic type's own generic
// method) — a local MethodDef or a MemberRef on a non-generic class
// has no declaring type-spec, so that field is left IDAbsent.
func (c *Context) resolveMethodSpecID(row1 uint32) (uint16, error) {
	row0 := row1 - 1
	if id, ok := c.methodSpecByRow[row0]; ok {
		return id, nil
	}
	ms := c.asm.MethodSpecs[row0]

	methodID, err := c.resolveMethodID(ms.MethodIsDef, ms.MethodRow)
	if err != nil {
		return 0, err
	}

	typeSpecID := IDAbsent
	if !ms.MethodIsDef {
		mr := c.asm.MemberRefs[ms.MethodRow-1]
		if mr.ClassHandle.Kind == pe.TypeHandleSpec {
			id, err := c.resolveTypeSpecID(mr.ClassHandle.SpecRow)
			if err != nil {
				return 0, err
			}
			typeSpecID = id
		}
	}

	instSig, err := EncodeMethodSpecSig(ms.Instantiation.GenArgs, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
	if err != nil {
		return 0, err
	}
	instSigID := uint16(c.Signatures.GetOrCreate(instSig))

	id := c.MethodSpecs.GetOrCreate(typeSpecID, methodID, instSigID)
	c.methodSpecByRow[row0] = id
	return id, nil
}

// typeHandleKey produces a stable map key distinguishing a MemberRef's
// declaring type identity for the field-ref/method-ref dedup keys,
// which are defined over a fully-qualified name rather than an id
// (reference tables are keyed before every table has finished
// resolving, so an id-based key would not yet be stable).
func (c *Context) typeHandleKey(h pe.TypeHandle) string {
	switch h.Kind {
	case pe.TypeHandleDef:
		return "D:" + fqnOf(c.asm, h.DefRow-1)
	case pe.TypeHandleRef:
		return "R:" + typeRefFQN(c.asm.TypeRefs[h.RefRow-1])
	case pe.TypeHandleSpec:
		return fmt.Sprintf("S:%d", h.SpecRow)
	default:
		return "?"
	}
}

// resolveFieldRefID interns a MemberRef field row into the field-ref
// table.
func (c *Context) resolveFieldRefID(row1 uint32) (uint16, error) {
	mr := c.asm.MemberRefs[row1-1]
	declaringFQN := c.typeHandleKey(mr.ClassHandle)
	if id, ok := c.FieldRefs.TryGetID(declaringFQN, mr.Name); ok {
		return id, nil
	}
	container, err := c.encodeTypeToken(mr.ClassHandle)
	if err != nil {
		return 0, err
	}
	sig, err := EncodeFieldSig(mr.FieldSignature.Type, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
	if err != nil {
		return 0, err
	}
	sigID := uint16(c.Signatures.GetOrCreate(sig))
	nameID := c.internString(mr.Name, true)
	return c.FieldRefs.GetOrCreate(declaringFQN, mr.Name, nameID, uint16(container), sigID), nil
}

// resolveMethodRefID interns a MemberRef method row into the
// method-ref table, keyed (like the loader row itself) by declaring
// type, name and signature so overloads never collide.
func (c *Context) resolveMethodRefID(row1 uint32) (uint16, error) {
	mr := c.asm.MemberRefs[row1-1]
	declaringFQN := c.typeHandleKey(mr.ClassHandle)
	sig, err := EncodeMethodSig(mr.MethodSig, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
	if err != nil {
		return 0, err
	}
	if id, ok := c.MethodRefs.TryGetID(declaringFQN, mr.Name, sig); ok {
		return id, nil
	}
	container, err := c.encodeTypeToken(mr.ClassHandle)
	if err != nil {
		return 0, err
	}
	sigID := uint16(c.Signatures.GetOrCreate(sig))
	nameID := c.internString(mr.Name, true)
	return c.MethodRefs.GetOrCreate(declaringFQN, mr.Name, sig, nameID, uint16(container), sigID), nil
}

// resolveMethodID implements §4.1's resolve_method_reference_id: a
// MemberRef resolves to its method-ref id OR'd with the external bit;
// a local MethodDef resolves to its method-def id unmodified.
func (c *Context) resolveMethodID(isDef bool, row1 uint32) (uint16, error) {
	if isDef {
		row0 := row1 - 1
		if !c.methodReachable[row0] {
			return 0, ErrUnresolvedReference
		}
		id, ok := c.MethodDefs.TryGetID(row0)
		if !ok {
			return 0, ErrUnresolvedReference
		}
		return id, nil
	}
	mr := c.asm.MemberRefs[row1-1]
	if mr.IsField {
		return 0, ErrUnsupportedConstruct
	}
	id, err := c.resolveMethodRefID(row1)
	if err != nil {
		return 0, err
	}
	return id | ExternalBit, nil
}

// sigTypeHandle implements sigtable.go's resolveHandle callback: a
// ValueType/Class SigType node's Token field is already the raw
// TypeDefOrRef coded index the loader itself decodes everywhere else,
// so this is a thin wrapper over the loader's own decoder rather than
// a second copy of its tag arithmetic.
func (c *Context) sigTypeHandle(t pe.SigType) (pe.TypeHandle, bool) {
	switch t.Kind {
	case pe.ElementTypeValueType, pe.ElementTypeClass:
		return pe.TypeHandleFromCodedToken(t.Token), true
	default:
		return pe.TypeHandle{}, false
	}
}

// expandEnum implements §4.4's enum-to-underlying-type expansion, but
// only for enums defined in this module: the loader resolves a field's
// declaring type eagerly at load time, so an externally-defined enum's
// instance fields are never reachable from a SigType node the way a
// local one's are. A local enum is recognized by the well-known
// "System.Enum" base plus the "value__" instance field ECMA-335 always
// generates for one, §II.14.3.
func (c *Context) expandEnum(t pe.SigType) (pe.FieldSig, bool) {
	if t.Kind != pe.ElementTypeValueType {
		return pe.FieldSig{}, false
	}
	h := pe.TypeHandleFromCodedToken(t.Token)
	if h.Kind != pe.TypeHandleDef {
		return pe.FieldSig{}, false
	}
	row := h.DefRow - 1
	if int(row) >= len(c.asm.TypeDefs) {
		return pe.FieldSig{}, false
	}
	td := c.asm.TypeDefs[row]
	if td.Extends.Kind != pe.TypeHandleRef {
		return pe.FieldSig{}, false
	}
	base := c.asm.TypeRefs[td.Extends.RefRow-1]
	if typeRefFQN(base) != "System.Enum" {
		return pe.FieldSig{}, false
	}
	for _, fr1 := range td.Fields {
		f := c.asm.Fields[fr1-1]
		if f.Flags&fieldAttrStatic == 0 && f.Name == "value__" {
			return f.Signature, true
		}
	}
	return pe.FieldSig{}, false
}

// encodeInterfaceListSig builds a type-def's interface-list signature
// directly from the bare TypeHandles the loader models interfaces as,
// rather than through sigtable.go's generic SigType-shaped
// EncodeInterfaceListSig: an InterfaceImpl's Interface is always a
// class-kind reference (interfaces are never value types), so this
// wraps each handle in the minimal SigType encodeTypeInfo needs instead
// of asking the loader to model interfaces as signatures it never
// decodes them as.
func (c *Context) encodeInterfaceListSig(interfaceRows []uint32) ([]byte, error) {
	ifaces := make([]pe.SigType, 0, len(interfaceRows))
	for _, implRow1 := range interfaceRows {
		impl := c.asm.InterfaceImpls[implRow1-1]
		ifaces = append(ifaces, handleToClassSigType(impl.Interface))
	}
	return EncodeInterfaceListSig(ifaces, c.encodeTypeToken, c.sigTypeHandle, c.expandEnum)
}

// handleToClassSigType wraps a TypeHandle as the ElementTypeClass
// SigType node sigTypeHandle expects to unwrap, round-tripping through
// the same coded-index encoding TypeHandleFromCodedToken decodes so
// the two stay in lockstep.
func handleToClassSigType(h pe.TypeHandle) pe.SigType {
	return pe.SigType{Kind: pe.ElementTypeClass, Token: typeHandleToCodedToken(h)}
}

// typeHandleToCodedToken is TypeHandleFromCodedToken's inverse: the
// TypeDefOrRef coded-index tag is 2 bits (0 TypeDef, 1 TypeRef, 2
// TypeSpec), matching idxTypeDefOrRef in dotnet_helper.go.
func typeHandleToCodedToken(h pe.TypeHandle) uint32 {
	switch h.Kind {
	case pe.TypeHandleRef:
		return h.RefRow<<2 | 1
	case pe.TypeHandleSpec:
		return h.SpecRow<<2 | 2
	default:
		return h.DefRow << 2
	}
}

// The following methods implement bytecode_table.go's
// MethodOperandResolver, dispatching a raw CIL token (table tag in the
// high byte, 1-based row in the low three, §II.22) to whichever table
// now owns it.

func splitToken(token int64) (table int, row1 uint32) {
	return int((token >> 24) & 0xFF), uint32(token & 0x00FFFFFF)
}

// ResolveMethodOperand resolves an InlineMethod operand (call, callvirt,
// newobj, ldftn, ldvirtftn): a MethodDef token resolves to its
// method-def id, a MemberRef token to its method-ref id OR'd with the
// external bit, §4.1's resolve_method_reference_id.
func (c *Context) ResolveMethodOperand(token int64) (uint16, error) {
	table, row1 := splitToken(token)
	switch table {
	case pe.Method:
		return c.resolveMethodID(true, row1)
	case pe.MemberRef:
		return c.resolveMethodID(false, row1)
	default:
		return 0, ErrUnsupportedConstruct
	}
}

// ResolveFieldOperand resolves an InlineField operand (ldfld, stfld,
// ldsfld, stsfld, ldflda, ldsflda): a Field token resolves to its
// field-def id, a MemberRef token to its field-ref id OR'd with the
// external bit.
func (c *Context) ResolveFieldOperand(token int64) (uint16, error) {
	table, row1 := splitToken(token)
	switch table {
	case pe.Field:
		row0 := row1 - 1
		id, ok := c.FieldDefs.TryGetID(row0)
		if !ok {
			return 0, ErrUnresolvedReference
		}
		return id, nil
	case pe.MemberRef:
		mr := c.asm.MemberRefs[row1-1]
		if !mr.IsField {
			return 0, ErrUnsupportedConstruct
		}
		id, err := c.resolveFieldRefID(row1)
		if err != nil {
			return 0, err
		}
		return id | ExternalBit, nil
	default:
		return 0, ErrUnsupportedConstruct
	}
}

// ResolveTypeOperand resolves an InlineType operand (castclass, isinst,
// box, unbox, newarr, ...) to encode_type_token's packed (tag, id)
// form, truncated to 16 bits: §4.1 defines encode_type_token as
// (id << 2) | tag with a tag of 0b000, 0b001 or 0b100, so the result
// fits 16 bits only for ids below 0x4000.
func (c *Context) ResolveTypeOperand(token int64) (uint16, error) {
	table, row1 := splitToken(token)
	h, ok := typeHandleForTable(table, row1)
	if !ok {
		return 0, ErrUnsupportedConstruct
	}
	tok, err := c.encodeTypeToken(h)
	if err != nil {
		return 0, err
	}
	return uint16(tok), nil
}

func typeHandleForTable(table int, row1 uint32) (pe.TypeHandle, bool) {
	switch table {
	case pe.TypeDef:
		return pe.TypeHandle{Kind: pe.TypeHandleDef, DefRow: row1}, true
	case pe.TypeRef:
		return pe.TypeHandle{Kind: pe.TypeHandleRef, RefRow: row1}, true
	case pe.TypeSpec:
		return pe.TypeHandle{Kind: pe.TypeHandleSpec, SpecRow: row1}, true
	default:
		return pe.TypeHandle{}, false
	}
}

// ResolveStringOperand resolves an InlineString operand (ldstr): the
// raw token's low 24 bits are a byte offset into the "#US" heap the
// loader already decoded eagerly at load time, §9's cyclic-object-graph
// note. User-string literals are never looked up against the
// constants table: an identical literal in the constants table and in
// this assembly's own text are different bytes at different ids by
// construction, so only the per-assembly heap applies.
func (c *Context) ResolveStringOperand(token int64) (uint16, error) {
	_, offset := splitToken(token)
	s, ok := c.asm.UserStrings[offset]
	if !ok {
		return 0, ErrUnresolvedReference
	}
	return c.internString(s, false), nil
}

// ResolveTokOperand resolves an InlineTok operand (ldtoken) to a full
// 32-bit wire token (TableTag in the high byte, table-local id in the
// low 24), covering every table ldtoken can legally name.
func (c *Context) ResolveTokOperand(token int64) (uint32, error) {
	table, row1 := splitToken(token)
	switch table {
	case pe.TypeDef, pe.TypeRef, pe.TypeSpec:
		h, _ := typeHandleForTable(table, row1)
		tok, err := c.encodeTypeToken(h)
		if err != nil {
			return 0, err
		}
		_, id := decodeTypeToken(tok)
		if h.Kind == pe.TypeHandleSpec {
			// TagTypeSpec's 0b100 overlaps the id's low bit, so the
			// packed token cannot be split back; take the id by row.
			id, err = c.resolveTypeSpecID(row1)
			if err != nil {
				return 0, err
			}
		}
		return EncodeToken(tagToTableTag(tableTagOf(h)), uint32(id)), nil
	case pe.Method:
		id, err := c.resolveMethodID(true, row1)
		if err != nil {
			return 0, err
		}
		return EncodeToken(TblMethodDef, uint32(id)), nil
	case pe.Field:
		row0 := row1 - 1
		id, ok := c.FieldDefs.TryGetID(row0)
		if !ok {
			return 0, ErrUnresolvedReference
		}
		return EncodeToken(TblFieldDef, uint32(id)), nil
	case pe.MemberRef:
		mr := c.asm.MemberRefs[row1-1]
		if mr.IsField {
			id, err := c.resolveFieldRefID(row1)
			if err != nil {
				return 0, err
			}
			return EncodeToken(TblFieldRef, uint32(id)), nil
		}
		id, err := c.resolveMethodRefID(row1)
		if err != nil {
			return 0, err
		}
		return EncodeToken(TblMethodRef, uint32(id)), nil
	case pe.MethodSpec:
		id, err := c.resolveMethodSpecID(row1)
		if err != nil {
			return 0, err
		}
		return EncodeToken(TblMethodSpec, uint32(id)), nil
	default:
		return 0, ErrUnsupportedConstruct
	}
}

// decodeTypeToken splits an encode_type_token result back into its
// 2-bit tag and table-local id, the inverse of the package-level
// encodeTypeToken helper for the TypeDef and TypeRef tags only
// (TagTypeSpec's 0b100 overlaps the id's low bit); used only to recover
// the id encodeTypeToken
// already packed so ResolveTokOperand can re-tag it with the wider
// 8-bit TableTag scheme the Attributes/ldtoken wire format uses.
func decodeTypeToken(tok uint32) (tag uint32, id uint16) {
	return tok & 0b11, uint16(tok >> 2)
}

func tagToTableTag(tag uint32) TableTag {
	switch tag {
	case TagTypeRef:
		return TblTypeRef
	case TagTypeSpec:
		return TblTypeSpec
	default:
		return TblTypeDef
	}
}

func tableTagOf(h pe.TypeHandle) uint32 {
	switch h.Kind {
	case pe.TypeHandleRef:
		return TagTypeRef
	case pe.TypeHandleSpec:
		return TagTypeSpec
	default:
		return TagTypeDef
	}
}

// ResolveSigOperand resolves calli's InlineSig operand. The loader
// only decodes a StandAloneSig row once, inline, as a method body's own
// local-variable signature (via the fat header's embedded token); it
// never models the StandAloneSig table generally, so a calli call-site
// signature token cannot be resolved from the object graph at all.
// This is a legitimate unsupported-construct case, not a bug: assemblies
// that use calli are outside this pipeline's input domain.
func (c *Context) ResolveSigOperand(token int64) (uint16, error) {
	return 0, ErrUnsupportedConstruct
}
