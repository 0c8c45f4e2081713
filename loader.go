// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "fmt"

// Load resolves the raw metadata tables a parsed File already carries
// (File.CLR.MetadataTables, populated by ParseDataDirectories) into the
// object graph the lowering pipeline consumes. File.Parse must have been
// called first, and the file must carry a CLR header (File.HasCLR).
func Load(pe *File) (*Assembly, error) {
	if !pe.HasCLR {
		return nil, fmt.Errorf("file does not carry a CLR header")
	}

	asm := &Assembly{}

	if mod, ok := pe.CLR.MetadataTables[Module]; ok {
		row, ok := mod.Content.(ModuleTableRow)
		if ok {
			name, err := pe.stringFromHeap(row.Name)
			if err != nil {
				return nil, fmt.Errorf("module name: %w", err)
			}
			asm.ModuleName = name
			mvid, err := pe.guidAtOffset(row.Mvid)
			if err != nil {
				return nil, fmt.Errorf("module mvid: %w", err)
			}
			asm.ModuleMvid = mvid
		}
	}

	var err error
	if asm.UserStrings, err = pe.loadUserStrings(); err != nil {
		return nil, err
	}
	if asm.AssemblyRefs, err = pe.loadAssemblyRefs(); err != nil {
		return nil, err
	}
	if asm.TypeRefs, err = pe.loadTypeRefs(); err != nil {
		return nil, err
	}
	if asm.Fields, err = pe.loadFields(); err != nil {
		return nil, err
	}
	if asm.Methods, err = pe.loadMethods(); err != nil {
		return nil, err
	}
	if asm.TypeDefs, err = pe.loadTypeDefs(len(asm.Fields), len(asm.Methods)); err != nil {
		return nil, err
	}
	if asm.InterfaceImpls, err = pe.loadInterfaceImpls(); err != nil {
		return nil, err
	}
	pe.assignInterfaces(asm)
	if asm.MemberRefs, err = pe.loadMemberRefs(); err != nil {
		return nil, err
	}
	if asm.Constants, err = pe.loadConstants(); err != nil {
		return nil, err
	}
	if asm.CustomAttributes, err = pe.loadCustomAttributes(); err != nil {
		return nil, err
	}
	if asm.TypeSpecs, err = pe.loadTypeSpecs(); err != nil {
		return nil, err
	}
	if asm.NestedClasses, err = pe.loadNestedClasses(); err != nil {
		return nil, err
	}
	pe.assignNesting(asm)
	if asm.GenericParams, err = pe.loadGenericParams(); err != nil {
		return nil, err
	}
	pe.assignGenerics(asm)
	if asm.MethodSpecs, err = pe.loadMethodSpecs(); err != nil {
		return nil, err
	}
	if asm.ManifestResources, err = pe.loadManifestResources(); err != nil {
		return nil, err
	}

	return asm, nil
}

func decodeCodedIndex(ci codedidx, raw uint32) (table int, row uint32) {
	tagbits := uint32(ci.tagbits)
	mask := uint32(1)<<tagbits - 1
	tag := raw & mask
	row = raw >> tagbits
	if int(tag) < len(ci.idx) {
		table = ci.idx[tag]
	} else {
		table = -1
	}
	return table, row
}

// TypeHandleFromCodedToken decodes a raw TypeDefOrRef coded-index value
// (as stored uninterpreted in SigType.Token for ValueType/Class nodes)
// into a TypeHandle, using the same tag mapping as every other
// TypeDefOrRef column this loader resolves.
func TypeHandleFromCodedToken(raw uint32) TypeHandle {
	return typeDefOrRefHandle(raw)
}

func typeDefOrRefHandle(raw uint32) TypeHandle {
	if raw == 0 {
		return TypeHandle{Kind: TypeHandleNone}
	}
	table, row := decodeCodedIndex(idxTypeDefOrRef, raw)
	switch table {
	case TypeDef:
		return TypeHandle{Kind: TypeHandleDef, DefRow: row}
	case TypeRef:
		return TypeHandle{Kind: TypeHandleRef, RefRow: row}
	case TypeSpec:
		return TypeHandle{Kind: TypeHandleSpec, SpecRow: row}
	default:
		return TypeHandle{Kind: TypeHandleNone}
	}
}

func (pe *File) loadAssemblyRefs() ([]AssemblyRefInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[AssemblyRef]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]AssemblyRefTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]AssemblyRefInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("assemblyref[%d] name: %w", i+1, err)
		}
		culture, err := pe.stringFromHeap(r.Culture)
		if err != nil {
			return nil, fmt.Errorf("assemblyref[%d] culture: %w", i+1, err)
		}
		pkt, err := pe.blobAtOffset(r.PublicKeyOrToken)
		if err != nil {
			return nil, fmt.Errorf("assemblyref[%d] public key: %w", i+1, err)
		}
		out[i] = AssemblyRefInfo{
			Name:           name,
			Culture:        culture,
			MajorVersion:   r.MajorVersion,
			MinorVersion:   r.MinorVersion,
			BuildNumber:    r.BuildNumber,
			RevisionNumber: r.RevisionNumber,
			PublicKeyToken: pkt,
		}
	}
	return out, nil
}

func (pe *File) loadTypeRefs() ([]TypeRefInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[TypeRef]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]TypeRefTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]TypeRefInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.TypeName)
		if err != nil {
			return nil, fmt.Errorf("typeref[%d] name: %w", i+1, err)
		}
		ns, err := pe.stringFromHeap(r.TypeNamespace)
		if err != nil {
			return nil, fmt.Errorf("typeref[%d] namespace: %w", i+1, err)
		}
		info := TypeRefInfo{Name: name, Namespace: ns}
		table, row := decodeCodedIndex(idxResolutionScope, r.ResolutionScope)
		switch table {
		case AssemblyRef:
			info.ScopeIsAssembly = true
			info.AssemblyRefRow = row
		case TypeRef:
			info.ParentTypeRef = row
		}
		out[i] = info
	}
	return out, nil
}

func (pe *File) loadFields() ([]FieldInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[Field]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]FieldTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]FieldInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("field[%d] name: %w", i+1, err)
		}
		raw, err := pe.blobAtOffset(r.Signature)
		if err != nil {
			return nil, fmt.Errorf("field[%d] signature: %w", i+1, err)
		}
		var sig FieldSig
		if len(raw) > 0 {
			sig, err = decodeFieldSig(raw)
			if err != nil {
				return nil, fmt.Errorf("field[%d] signature decode: %w", i+1, err)
			}
		}
		out[i] = FieldInfo{Name: name, Flags: r.Flags, Signature: sig, RawSig: raw}
	}
	return out, nil
}

func (pe *File) loadMethods() ([]MethodDefInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[Method]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]MethodDefTableRow)
	if !ok {
		return nil, nil
	}

	var paramRows []ParamTableRow
	if ptbl, ok := pe.CLR.MetadataTables[Param]; ok {
		if pr, ok := ptbl.Content.([]ParamTableRow); ok {
			paramRows = pr
		}
	}

	out := make([]MethodDefInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("method[%d] name: %w", i+1, err)
		}
		raw, err := pe.blobAtOffset(r.Signature)
		if err != nil {
			return nil, fmt.Errorf("method[%d] signature: %w", i+1, err)
		}
		var sig MethodSig
		if len(raw) > 0 {
			sig, _, err = decodeMethodSig(raw, 0)
			if err != nil {
				return nil, fmt.Errorf("method[%d] signature decode: %w", i+1, err)
			}
		}

		start := int(r.ParamList) - 1
		end := len(paramRows)
		if i+1 < len(rows) {
			end = int(rows[i+1].ParamList) - 1
		}
		var params []ParamInfo
		if start >= 0 && start <= end && end <= len(paramRows) {
			for _, pr := range paramRows[start:end] {
				pname, err := pe.stringFromHeap(pr.Name)
				if err != nil {
					return nil, fmt.Errorf("method[%d] param name: %w", i+1, err)
				}
				params = append(params, ParamInfo{Name: pname, Flags: pr.Flags, Sequence: pr.Sequence})
			}
		}

		m := MethodDefInfo{
			Name:      name,
			Flags:     r.Flags,
			ImplFlags: r.ImplFlags,
			RVA:       r.RVA,
			Signature: sig,
			RawSig:    raw,
			Params:    params,
		}

		if r.RVA != 0 {
			maxStack, initLocals, localsTok, instrs, ehs, err := pe.decodeMethodBody(r.RVA)
			if err != nil {
				return nil, fmt.Errorf("method[%d] body: %w", i+1, err)
			}
			m.MaxStack = maxStack
			m.InitLocals = initLocals
			m.Instructions = instrs
			m.ExceptionHandlers = ehs
			if localsTok != 0 {
				// localsTok is a metadata token (table tag in top byte); the
				// StandAloneSig table is the only table it can name.
				row := localsTok & 0x00FFFFFF
				if sigTbl, ok := pe.CLR.MetadataTables[StandAloneSig]; ok {
					if sigRows, ok := sigTbl.Content.([]StandAloneSigTableRow); ok && int(row) >= 1 && int(row) <= len(sigRows) {
						blob, err := pe.blobAtOffset(sigRows[row-1].Signature)
						if err != nil {
							return nil, fmt.Errorf("method[%d] locals signature: %w", i+1, err)
						}
						if len(blob) > 0 {
							lv, err := decodeLocalVarSig(blob)
							if err != nil {
								return nil, fmt.Errorf("method[%d] locals decode: %w", i+1, err)
							}
							m.Locals = lv.Locals
						}
					}
				}
			}
		}

		out[i] = m
	}
	return out, nil
}

func (pe *File) loadTypeDefs(fieldCount, methodCount int) ([]TypeDefInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[TypeDef]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]TypeDefTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]TypeDefInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.TypeName)
		if err != nil {
			return nil, fmt.Errorf("typedef[%d] name: %w", i+1, err)
		}
		ns, err := pe.stringFromHeap(r.TypeNamespace)
		if err != nil {
			return nil, fmt.Errorf("typedef[%d] namespace: %w", i+1, err)
		}

		fStart := int(r.FieldList) - 1
		fEnd := fieldCount
		mStart := int(r.MethodList) - 1
		mEnd := methodCount
		if i+1 < len(rows) {
			fEnd = int(rows[i+1].FieldList) - 1
			mEnd = int(rows[i+1].MethodList) - 1
		}

		var fields, methods []uint32
		if fStart >= 0 && fStart <= fEnd && fEnd <= fieldCount {
			for row := fStart + 1; row <= fEnd; row++ {
				fields = append(fields, uint32(row))
			}
		}
		if mStart >= 0 && mStart <= mEnd && mEnd <= methodCount {
			for row := mStart + 1; row <= mEnd; row++ {
				methods = append(methods, uint32(row))
			}
		}

		out[i] = TypeDefInfo{
			Name:      name,
			Namespace: ns,
			Flags:     r.Flags,
			Extends:   typeDefOrRefHandle(r.Extends),
			Fields:    fields,
			Methods:   methods,
		}
	}
	return out, nil
}

func (pe *File) loadInterfaceImpls() ([]InterfaceImplInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[InterfaceImpl]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]InterfaceImplTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]InterfaceImplInfo, len(rows))
	for i, r := range rows {
		out[i] = InterfaceImplInfo{Interface: typeDefOrRefHandle(r.Interface)}
	}
	return out, nil
}

// assignInterfaces back-fills TypeDef.Interfaces by scanning InterfaceImpl
// rows' Class column, which loadInterfaceImpls discards because the raw
// InterfaceImplTableRow.Class value is needed only for this grouping, not
// for the resolved InterfaceImplInfo itself.
func (pe *File) assignInterfaces(asm *Assembly) {
	tbl, ok := pe.CLR.MetadataTables[InterfaceImpl]
	if !ok {
		return
	}
	rows, ok := tbl.Content.([]InterfaceImplTableRow)
	if !ok {
		return
	}
	for i, r := range rows {
		class := r.Class
		if int(class) >= 1 && int(class) <= len(asm.TypeDefs) {
			asm.TypeDefs[class-1].Interfaces = append(asm.TypeDefs[class-1].Interfaces, uint32(i+1))
		}
	}
}

func (pe *File) loadMemberRefs() ([]MemberRefInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[MemberRef]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]MemberRefTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]MemberRefInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("memberref[%d] name: %w", i+1, err)
		}
		raw, err := pe.blobAtOffset(r.Signature)
		if err != nil {
			return nil, fmt.Errorf("memberref[%d] signature: %w", i+1, err)
		}

		info := MemberRefInfo{Name: name, RawSig: raw}
		table, row := decodeCodedIndex(idxMemberRefParent, r.Class)
		switch table {
		case TypeDef:
			info.ClassHandle = TypeHandle{Kind: TypeHandleDef, DefRow: row}
		case TypeRef:
			info.ClassHandle = TypeHandle{Kind: TypeHandleRef, RefRow: row}
		case TypeSpec:
			info.ClassHandle = TypeHandle{Kind: TypeHandleSpec, SpecRow: row}
		case Method:
			info.ClassIsMethod = true
		}

		if len(raw) > 0 {
			if raw[0] == 0x06 {
				info.IsField = true
				info.FieldSignature, err = decodeFieldSig(raw)
			} else {
				info.MethodSig, _, err = decodeMethodSig(raw, 0)
			}
			if err != nil {
				return nil, fmt.Errorf("memberref[%d] signature decode: %w", i+1, err)
			}
		}
		out[i] = info
	}
	return out, nil
}

func (pe *File) loadConstants() ([]ConstantInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[Constant]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]ConstantTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]ConstantInfo, len(rows))
	for i, r := range rows {
		value, err := pe.blobAtOffset(r.Value)
		if err != nil {
			return nil, fmt.Errorf("constant[%d] value: %w", i+1, err)
		}
		info := ConstantInfo{Type: r.Type, Value: value}
		table, row := decodeCodedIndex(idxHasConstant, r.Parent)
		switch table {
		case Field:
			info.ParentField = row
		case Param:
			info.ParentParam = row
		}
		out[i] = info
	}
	return out, nil
}

func (pe *File) loadCustomAttributes() ([]CustomAttributeInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[CustomAttribute]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]CustomAttributeTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]CustomAttributeInfo, len(rows))
	for i, r := range rows {
		args, err := pe.blobAtOffset(r.Value)
		if err != nil {
			return nil, fmt.Errorf("customattribute[%d] value: %w", i+1, err)
		}
		info := CustomAttributeInfo{FixedArgs: args}
		pt, pr := decodeCodedIndex(idxHasCustomAttributes, r.Parent)
		info.ParentTable, info.ParentRow = pt, pr

		ct, cr := decodeCodedIndex(idxCustomAttributeType, r.Type)
		info.CtorIsMethodDef = ct == Method
		info.CtorRow = cr
		out[i] = info
	}
	return out, nil
}

func (pe *File) loadTypeSpecs() ([]TypeSpecInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[TypeSpec]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]TypeSpecTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]TypeSpecInfo, len(rows))
	for i, r := range rows {
		raw, err := pe.blobAtOffset(r.Signature)
		if err != nil {
			return nil, fmt.Errorf("typespec[%d] signature: %w", i+1, err)
		}
		var sig SigType
		if len(raw) > 0 {
			sig, err = decodeTypeSpecSig(raw)
			if err != nil {
				return nil, fmt.Errorf("typespec[%d] signature decode: %w", i+1, err)
			}
		}
		out[i] = TypeSpecInfo{Signature: sig, RawSig: raw}
	}
	return out, nil
}

func (pe *File) loadNestedClasses() ([]NestedClassInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[NestedClass]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]NestedClassTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]NestedClassInfo, len(rows))
	for i, r := range rows {
		out[i] = NestedClassInfo{NestedTypeDefRow: r.NestedClass, EnclosingTypeDefRow: r.EnclosingClass}
	}
	return out, nil
}

func (pe *File) assignNesting(asm *Assembly) {
	for _, nc := range asm.NestedClasses {
		if int(nc.NestedTypeDefRow) >= 1 && int(nc.NestedTypeDefRow) <= len(asm.TypeDefs) {
			asm.TypeDefs[nc.NestedTypeDefRow-1].NestedIn = nc.EnclosingTypeDefRow
		}
	}
}

func (pe *File) loadGenericParams() ([]GenericParamInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[GenericParam]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]GenericParamTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]GenericParamInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("genericparam[%d] name: %w", i+1, err)
		}
		info := GenericParamInfo{Number: r.Number, Flags: r.Flags, Name: name}
		table, row := decodeCodedIndex(idxTypeOrMethodDef, r.Owner)
		info.OwnerIsMethod = table == Method
		info.OwnerRow = row
		out[i] = info
	}
	return out, nil
}

func (pe *File) assignGenerics(asm *Assembly) {
	for i, gp := range asm.GenericParams {
		row := uint32(i + 1)
		if gp.OwnerIsMethod {
			if int(gp.OwnerRow) >= 1 && int(gp.OwnerRow) <= len(asm.Methods) {
				asm.Methods[gp.OwnerRow-1].GenericRows = append(asm.Methods[gp.OwnerRow-1].GenericRows, row)
			}
		} else if int(gp.OwnerRow) >= 1 && int(gp.OwnerRow) <= len(asm.TypeDefs) {
			asm.TypeDefs[gp.OwnerRow-1].Generics = append(asm.TypeDefs[gp.OwnerRow-1].Generics, row)
		}
	}
}

func (pe *File) loadMethodSpecs() ([]MethodSpecInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[MethodSpec]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]MethodSpecTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]MethodSpecInfo, len(rows))
	for i, r := range rows {
		raw, err := pe.blobAtOffset(r.Instantiation)
		if err != nil {
			return nil, fmt.Errorf("methodspec[%d] instantiation: %w", i+1, err)
		}
		info := MethodSpecInfo{RawSig: raw}
		table, row := decodeCodedIndex(idxMethodDefOrRef, r.Method)
		info.MethodIsDef = table == Method
		info.MethodRow = row
		if len(raw) > 0 {
			inst, err := decodeMethodSpecInstantiation(raw)
			if err != nil {
				return nil, fmt.Errorf("methodspec[%d] instantiation decode: %w", i+1, err)
			}
			info.Instantiation = inst
		}
		out[i] = info
	}
	return out, nil
}

// decodeMethodSpecInstantiation decodes a MethodSpec blob's GENERICINST
// section, §II.23.2.15: a literal 0x0A byte, a compressed argument count,
// then that many type nodes.
func decodeMethodSpecInstantiation(blob []byte) (SigType, error) {
	if len(blob) == 0 || blob[0] != 0x0A {
		return SigType{}, fmt.Errorf("methodspec blob missing GENERICINST marker")
	}
	pos := 1
	argc, pos, err := readCompressedUint(blob, pos)
	if err != nil {
		return SigType{}, err
	}
	t := SigType{Kind: ElementTypeGenericInst}
	for i := uint32(0); i < argc; i++ {
		var arg SigType
		arg, pos, err = decodeSigType(blob, pos)
		if err != nil {
			return t, err
		}
		t.GenArgs = append(t.GenArgs, arg)
	}
	return t, nil
}

func (pe *File) loadManifestResources() ([]ManifestResourceInfo, error) {
	tbl, ok := pe.CLR.MetadataTables[ManifestResource]
	if !ok {
		return nil, nil
	}
	rows, ok := tbl.Content.([]ManifestResourceTableRow)
	if !ok {
		return nil, nil
	}
	out := make([]ManifestResourceInfo, len(rows))
	for i, r := range rows {
		name, err := pe.stringFromHeap(r.Name)
		if err != nil {
			return nil, fmt.Errorf("manifestresource[%d] name: %w", i+1, err)
		}
		info := ManifestResourceInfo{Name: name, Flags: r.Flags, Offset: r.Offset}
		table, row := decodeCodedIndex(idxImplementation, r.Implementation)
		if row == 0 {
			info.Embedded = true
			if data, err := pe.embeddedResourceBytes(r.Offset); err == nil {
				info.Data = data
			}
		} else {
			info.ImplementationIsFile = table == FileMD
			info.ImplementationRow = row
		}
		out[i] = info
	}
	return out, nil
}

// embeddedResourceBytes reads one resource's length-prefixed blob out of
// the CLR header's Resources data directory, §II.24.2.
func (pe *File) embeddedResourceBytes(offset uint32) ([]byte, error) {
	dir := pe.CLR.CLRHeader.Resources
	if dir.VirtualAddress == 0 {
		return nil, fmt.Errorf("no resources directory")
	}
	base := pe.GetOffsetFromRva(dir.VirtualAddress)
	length, err := pe.ReadUint32(base + offset)
	if err != nil {
		return nil, err
	}
	start := base + offset + 4
	if uint32(len(pe.data)) < start+length {
		return nil, fmt.Errorf("resource data out of range")
	}
	return pe.data[start : start+length], nil
}
