// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"sort"

	pe "github.com/saferwall/nanometa"
)

// moduleTypeName is the synthetic type §4.2 excludes from ordering.
const moduleTypeName = "<Module>"

// TypeOrderer computes the deterministic type-definition order §4.2
// requires: a nested type after its declaring type, a type after
// same-module interfaces it implements, and a type after same-module
// types its methods' instructions reference.
type TypeOrderer struct {
	asm *pe.Assembly
}

// NewTypeOrderer builds an orderer over a loaded assembly's TypeDefs.
func NewTypeOrderer(asm *pe.Assembly) *TypeOrderer {
	return &TypeOrderer{asm: asm}
}

// Order returns TypeDef row indices (0-based, into asm.TypeDefs) in
// emission order. If explicit is non-empty it is used verbatim as a
// fully-qualified-name order, with any name that does not match a
// TypeDef in this assembly silently dropped, per §4.2. Otherwise the
// order is computed by depth-first traversal, pre-sorted by fully
// qualified name for determinism.
func (o *TypeOrderer) Order(explicit []string) []uint32 {
	if len(explicit) > 0 {
		return o.explicitOrder(explicit)
	}
	return o.computedOrder()
}

func (o *TypeOrderer) fqn(row uint32) string {
	t := o.asm.TypeDefs[row]
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (o *TypeOrderer) explicitOrder(explicit []string) []uint32 {
	byName := make(map[string]uint32, len(o.asm.TypeDefs))
	for i, t := range o.asm.TypeDefs {
		if t.Name == moduleTypeName {
			continue
		}
		name := o.fqn(uint32(i))
		byName[name] = uint32(i)
	}
	out := make([]uint32, 0, len(explicit))
	for _, name := range explicit {
		if row, ok := byName[name]; ok {
			out = append(out, row)
		}
	}
	return out
}

func (o *TypeOrderer) computedOrder() []uint32 {
	candidates := make([]uint32, 0, len(o.asm.TypeDefs))
	for i, t := range o.asm.TypeDefs {
		if t.Name == moduleTypeName {
			continue
		}
		candidates = append(candidates, uint32(i))
	}
	sort.Slice(candidates, func(i, j int) bool {
		return o.fqn(candidates[i]) < o.fqn(candidates[j])
	})

	visited := make(map[uint32]bool, len(candidates))
	out := make([]uint32, 0, len(candidates))
	var visit func(row uint32)
	visit = func(row uint32) {
		// A cycle collapses to visit order: marking visited before
		// recursing into dependencies is what makes that safe, §4.2
		// "Failure".
		if visited[row] {
			return
		}
		visited[row] = true
		for _, dep := range o.dependencies(row) {
			visit(dep)
		}
		out = append(out, row)
	}
	for _, row := range candidates {
		visit(row)
	}
	return out
}

// dependencies returns the same-module TypeDef rows row must be emitted
// after: its declaring type, the interfaces it implements, and the types
// referenced by its methods' instruction operands.
//
// The loader hands out every cross-table reference (TypeHandle.DefRow,
// TypeDefInfo.Fields/Methods/Interfaces, NestedIn) as the table's raw
// 1-based ECMA row number, not a 0-based Go slice index — see
// typeDefOrRefHandle, loadTypeDefs and assignInterfaces in loader.go.
// Every such value is converted with -1 at the point it is used to
// index an asm.* slice.
func (o *TypeOrderer) dependencies(row uint32) []uint32 {
	t := o.asm.TypeDefs[row]
	var deps []uint32

	if t.NestedIn != 0 {
		deps = append(deps, t.NestedIn-1)
	}
	if t.Extends.Kind == pe.TypeHandleDef {
		deps = append(deps, t.Extends.DefRow-1)
	}
	for _, implIdx := range t.Interfaces {
		impl := o.asm.InterfaceImpls[implIdx-1]
		if impl.Interface.Kind == pe.TypeHandleDef {
			deps = append(deps, impl.Interface.DefRow-1)
		}
	}
	for _, methodIdx := range t.Methods {
		m := o.asm.Methods[methodIdx-1]
		for _, instr := range m.Instructions {
			switch instr.OperandKind {
			case pe.OperandInlineType, pe.OperandInlineMethod, pe.OperandInlineField, pe.OperandInlineTok:
				if defRow, ok := o.operandTypeDefRow(instr.Token); ok {
					deps = append(deps, defRow)
				}
			}
		}
	}
	return deps
}

// operandTypeDefRow resolves a raw CIL metadata token (table tag in the
// high byte, 1-based row in the low three, per ECMA-335 §II.22) to a
// same-module TypeDef row, when the token names one directly or a member
// whose declaring type is one.
func (o *TypeOrderer) operandTypeDefRow(token int64) (uint32, bool) {
	table := int((token >> 24) & 0xFF)
	row := uint32(token&0x00FFFFFF) - 1

	switch table {
	case pe.TypeDef:
		if int(row) < len(o.asm.TypeDefs) {
			return row, true
		}
	case pe.Method:
		if int(row) < len(o.asm.Methods) {
			return o.declaringTypeDefRow(row, true)
		}
	case pe.Field:
		if int(row) < len(o.asm.Fields) {
			return o.declaringTypeDefRow(row, false)
		}
	case pe.MethodSpec:
		if int(row) < len(o.asm.MethodSpecs) {
			ms := o.asm.MethodSpecs[row]
			if ms.MethodIsDef {
				return o.declaringTypeDefRow(ms.MethodRow-1, true)
			}
		}
	}
	return 0, false
}

// declaringTypeDefRow finds which TypeDef owns the given field or method
// row by scanning TypeDefs' member lists. memberRow is 0-based (as
// produced by operandTypeDefRow); t.Fields/t.Methods entries are the
// loader's 1-based row numbers, hence the -1 below.
func (o *TypeOrderer) declaringTypeDefRow(memberRow uint32, isMethod bool) (uint32, bool) {
	for i, t := range o.asm.TypeDefs {
		members := t.Fields
		if isMethod {
			members = t.Methods
		}
		for _, m := range members {
			if m-1 == memberRow {
				return uint32(i), true
			}
		}
	}
	return 0, false
}
