// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import pe "github.com/saferwall/nanometa"

// Minimizer computes §2 step 5's mark-sweep reachability: which of this
// assembly's type, field and method definitions survive into the
// output. A non-excluded type is itself a root (this pipeline lowers a
// whole assembly, not a single entry point); from there, reachability
// propagates through nesting, inheritance, interface implementation,
// and same-module types a method body's instructions touch, so that
// excluding a type also drops anything only reachable through it.
type Minimizer struct {
	asm      *pe.Assembly
	excluded *ExcludedTypeSet

	typeReachable   map[uint32]bool
	fieldReachable  map[uint32]bool
	methodReachable map[uint32]bool
}

// NewMinimizer builds a minimizer over a loaded assembly.
func NewMinimizer(asm *pe.Assembly, excluded *ExcludedTypeSet) *Minimizer {
	return &Minimizer{
		asm:             asm,
		excluded:        excluded,
		typeReachable:   make(map[uint32]bool),
		fieldReachable:  make(map[uint32]bool),
		methodReachable: make(map[uint32]bool),
	}
}

func fqnOf(asm *pe.Assembly, row uint32) string {
	t := asm.TypeDefs[row]
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Run marks every reachable type, field and method, then returns the
// three survivor sets. It does not flip a context's MinimizeGate; that
// remains the tables context's call, after it has finished inserting
// only these survivors into the definition tables.
func (m *Minimizer) Run() (types, fields, methods map[uint32]bool) {
	for row := range m.asm.TypeDefs {
		r := uint32(row)
		if !m.excluded.Excluded(fqnOf(m.asm, r)) {
			m.markType(r)
		}
	}
	return m.typeReachable, m.fieldReachable, m.methodReachable
}

// markType marks row and everything it unconditionally drags in
// reachable. Like orderer.go, every cross-table reference the loader
// hands out (TypeHandle.DefRow, TypeDefInfo.Fields/Methods/Interfaces,
// NestedIn) is a raw 1-based ECMA row number, converted to a 0-based
// slice index with -1 at the point of use; fieldReachable/
// methodReachable are keyed 0-based for consistency with typeReachable.
func (m *Minimizer) markType(row uint32) {
	if m.typeReachable[row] {
		return
	}
	m.typeReachable[row] = true
	t := m.asm.TypeDefs[row]

	if t.Extends.Kind == pe.TypeHandleDef {
		m.markType(t.Extends.DefRow - 1)
	}
	if t.NestedIn != 0 {
		m.markType(t.NestedIn - 1)
	}
	for _, implIdx := range t.Interfaces {
		impl := m.asm.InterfaceImpls[implIdx-1]
		if impl.Interface.Kind == pe.TypeHandleDef {
			m.markType(impl.Interface.DefRow - 1)
		}
	}
	for _, fieldRow := range t.Fields {
		m.fieldReachable[fieldRow-1] = true
	}
	for _, methodRow := range t.Methods {
		m.markMethod(methodRow - 1)
	}
}

func (m *Minimizer) markMethod(row uint32) {
	if m.methodReachable[row] {
		return
	}
	m.methodReachable[row] = true
	method := m.asm.Methods[row]

	for _, instr := range method.Instructions {
		switch instr.OperandKind {
		case pe.OperandInlineType, pe.OperandInlineMethod, pe.OperandInlineField, pe.OperandInlineTok:
			if defRow, isType, ok := m.decodeOperandTarget(instr.Token); ok {
				if isType {
					m.markType(defRow)
				} else {
					// A same-module member reference: its declaring
					// type must also survive for the reference to
					// resolve.
					if typeRow, ok := m.declaringTypeOf(defRow, instr.OperandKind == pe.OperandInlineMethod); ok {
						m.markType(typeRow)
					}
				}
			}
		}
	}
}

// decodeOperandTarget resolves a raw CIL token to either a same-module
// TypeDef row (isType true) or a same-module Field/Method row (isType
// false). ok is false for anything external (TypeRef/MemberRef/...),
// which the minimizer does not need to mark since it is not part of
// this assembly's own definition tables.
func (m *Minimizer) decodeOperandTarget(token int64) (row uint32, isType bool, ok bool) {
	table := int((token >> 24) & 0xFF)
	r := uint32(token&0x00FFFFFF) - 1

	switch table {
	case pe.TypeDef:
		if int(r) < len(m.asm.TypeDefs) {
			return r, true, true
		}
	case pe.Method:
		if int(r) < len(m.asm.Methods) {
			return r, false, true
		}
	case pe.Field:
		if int(r) < len(m.asm.Fields) {
			return r, false, true
		}
	case pe.MethodSpec:
		// A generic method instantiation only needs tracing here when it
		// names a local MethodDef directly: resolved as a type (not a
		// member) so the caller marks the declaring type without relying
		// on instr.OperandKind to disambiguate field vs. method, since
		// ldtoken's InlineTok operand kind can't be used for that the way
		// InlineMethod/InlineField can. A MemberRef-targeted instantiation
		// (an external or generic-type-declared generic method) is left
		// untraced, same as any other MemberRef operand.
		if int(r) < len(m.asm.MethodSpecs) {
			ms := m.asm.MethodSpecs[r]
			if ms.MethodIsDef {
				if typeRow, ok := m.declaringTypeOf(ms.MethodRow-1, true); ok {
					return typeRow, true, true
				}
			}
		}
	}
	return 0, false, false
}

// declaringTypeOf finds which TypeDef owns the given field or method
// row. memberRow is 0-based (as produced by decodeOperandTarget);
// t.Fields/t.Methods entries are the loader's 1-based row numbers.
func (m *Minimizer) declaringTypeOf(memberRow uint32, isMethod bool) (uint32, bool) {
	for i, t := range m.asm.TypeDefs {
		members := t.Fields
		if isMethod {
			members = t.Methods
		}
		for _, mr := range members {
			if mr-1 == memberRow {
				return uint32(i), true
			}
		}
	}
	return 0, false
}
