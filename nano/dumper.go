// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	pe "github.com/saferwall/nanometa"
)

// Dumper renders a built Context as the flat textual layout: assembly
// refs, type refs (with nested member refs), type defs (with nested
// generic params, fields, methods and interface impls), type specs,
// method specs, attributes, the string heap and the user-string heap.
// Every entity id
// is rendered alongside the original ECMA-335 metadata token it was
// renumbered from, `[<4-hex-new-id>] /*<8-hex-original-token>*/`.
type Dumper struct {
	c     *Context
	w     *tabwriter.Writer
	color bool
	bold  func(a ...interface{}) string
	dim   func(a ...interface{}) string
}

// NewDumper wraps out in a tabwriter and colorizes headings/tokens when
// out is a terminal, falling back to plain text for redirected output
// (a file or a pipe), the same isatty check a dumper writing to
// os.Stdout would make.
func NewDumper(c *Context, out io.Writer, isTerminal bool) *Dumper {
	d := &Dumper{
		c:     c,
		w:     tabwriter.NewWriter(out, 0, 4, 2, ' ', 0),
		color: isTerminal,
	}
	d.bold = color.New(color.Bold).SprintFunc()
	d.dim = color.New(color.Faint).SprintFunc()
	return d
}

// IsTerminalStdout is a thin isatty.IsTerminal wrapper for callers that
// dump to os.Stdout, kept as a package-level helper so cmd/ doesn't
// import mattn/go-isatty directly for a single call site.
func IsTerminalStdout(fd uintptr) bool {
	return isatty.IsTerminal(fd)
}

func (d *Dumper) heading(s string) {
	if d.color {
		fmt.Fprintln(d.w, d.bold(s))
	} else {
		fmt.Fprintln(d.w, s)
	}
}

func (d *Dumper) line(format string, a ...interface{}) {
	fmt.Fprintf(d.w, format+"\n", a...)
}

// Dump writes the full flat layout and flushes the tabwriter.
func (d *Dumper) Dump() error {
	d.dumpAssemblyRefs()
	d.dumpTypeRefs()
	d.dumpTypeDefs()
	d.dumpTypeSpecs()
	d.dumpMethodSpecs()
	d.dumpAttributes()
	d.dumpStrings()
	d.dumpUserStrings()
	return d.w.Flush()
}

// token renders one entity id next to the original metadata token it
// was renumbered from, the dump format's universal convention.
func (d *Dumper) token(id uint16, origTable, origRow1 uint32) string {
	s := fmt.Sprintf("[%04X] /*%08X*/", id, origTable<<24|origRow1)
	if d.color {
		return d.dim(s)
	}
	return s
}

// tokenOrAbsent renders IDAbsent the same way a valid token would be preceded,
// so columns still line up under the tabwriter.
func (d *Dumper) tokenOrAbsent(id uint16, origTable, origRow1 uint32) string {
	if id == IDAbsent {
		return "[FFFF]"
	}
	return d.token(id, origTable, origRow1)
}

func (d *Dumper) dumpAssemblyRefs() {
	d.heading("== assembly-refs ==")
	for id, r := range d.c.AssemblyRefs.all() {
		name := d.c.AssemblyRefs.keyAt(uint16(id))
		row1, _ := findAssemblyRefRow(d.c.asm, name)
		d.line("%s\t%s\tv%d.%d", d.token(uint16(id), pe.AssemblyRef, row1), name, r.version[0], r.version[1])
	}
}

func (d *Dumper) dumpTypeRefs() {
	d.heading("== type-refs ==")
	for id, r := range d.c.TypeRefs.all() {
		fqn := d.c.TypeRefs.keyAt(uint16(id))
		row1, _ := findTypeRefRow(d.c.asm, fqn)
		d.line("%s\t%s\tscope=%04X", d.token(uint16(id), pe.TypeRef, row1), fqn, r.scope)
	}

	d.heading("== member-refs (field-refs, method-refs) ==")
	for id, r := range d.c.FieldRefs.all() {
		key := d.c.FieldRefs.keyAt(uint16(id))
		row1, _ := findFieldRefRow(d.c.asm, key)
		d.line("  field  %s\t%s.%s\tsig=%04X", d.token(uint16(id), pe.MemberRef, row1), key.declaringFQN, key.name, r.sigID)
	}
	for id, r := range d.c.MethodRefs.all() {
		key := d.c.MethodRefs.keyAt(uint16(id))
		row1, _ := findMethodRefRow(d.c.asm, key)
		d.line("  method %s\t%s.%s\tsig=%04X", d.token(uint16(id), pe.MemberRef, row1), key.declaringFQN, key.name, r.sigID)
	}
}

func (d *Dumper) dumpTypeDefs() {
	d.heading("== type-defs ==")
	for id, r := range d.c.TypeDefs.all() {
		row0 := d.c.TypeDefs.keyAt(uint16(id))
		t := d.c.asm.TypeDefs[row0]
		fqn := fqnOf(d.c.asm, row0)

		d.line("%s\t%s\tkind=%s\tflags=%08X", d.token(uint16(id), pe.TypeDef, row0+1), fqn, dataTypeName(r.dataType), r.flags)
		if t.Extends.Kind != pe.TypeHandleNone {
			d.line("  extends\t%s", d.tokenOrAbsent(uint16(r.extendsToken), interfaceTable(t.Extends), interfaceRow1(t.Extends)))
		}
		if r.enclosingTypeID != IDAbsent {
			d.line("  nested-in\t%s", d.token(r.enclosingTypeID, pe.TypeDef, t.NestedIn))
		}

		for _, gpRow := range t.Generics {
			gp := d.c.asm.GenericParams[gpRow-1]
			d.line("  generic-param\t#%d %s\tflags=%04X", gp.Number, gp.Name, gp.Flags)
		}

		d.dumpFields(t, r.firstFieldID)
		d.dumpMethods(t, r.firstMethodID)

		for _, implRow1 := range t.Interfaces {
			impl := d.c.asm.InterfaceImpls[implRow1-1]
			tok, _ := d.c.encodeTypeToken(impl.Interface)
			d.line("  interface-impl\t%s", d.token(uint16(tok), interfaceTable(impl.Interface), interfaceRow1(impl.Interface)))
		}
	}
}

func interfaceTable(h pe.TypeHandle) uint32 {
	switch h.Kind {
	case pe.TypeHandleRef:
		return pe.TypeRef
	case pe.TypeHandleSpec:
		return pe.TypeSpec
	default:
		return pe.TypeDef
	}
}

func interfaceRow1(h pe.TypeHandle) uint32 {
	switch h.Kind {
	case pe.TypeHandleRef:
		return h.RefRow
	case pe.TypeHandleSpec:
		return h.SpecRow
	default:
		return h.DefRow
	}
}

func (d *Dumper) dumpFields(t pe.TypeDefInfo, firstFieldID uint16) {
	if firstFieldID == IDAbsent {
		return
	}
	for _, fr1 := range t.Fields {
		fr0 := fr1 - 1
		id, ok := d.c.FieldDefs.TryGetID(fr0)
		if !ok {
			continue // a compile-time-constant field, never emitted
		}
		f := d.c.asm.Fields[fr0]
		d.line("  field\t%s\t%s\tflags=%04X", d.token(id, pe.Field, fr1), f.Name, f.Flags)
	}
}

func (d *Dumper) dumpMethods(t pe.TypeDefInfo, firstMethodID uint16) {
	if firstMethodID == IDAbsent {
		return
	}
	for _, mr1 := range t.Methods {
		mr0 := mr1 - 1
		id, ok := d.c.MethodDefs.TryGetID(mr0)
		if !ok {
			continue
		}
		m := d.c.asm.Methods[mr0]
		d.line("  method\t%s\t%s\tflags=%04X\trva=%08X", d.token(id, pe.Method, mr1), m.Name, m.Flags, m.RVA)

		for _, local := range localTypeNames(m.Locals) {
			d.line("    local\t%s", local)
		}
		for _, eh := range m.ExceptionHandlers {
			d.line("    handler\tkind=%d\ttry=[%d,%d)\thandler=[%d,%d)", eh.Kind, eh.TryOffset, eh.TryOffset+eh.TryLength, eh.HandlerOffset, eh.HandlerOffset+eh.HandlerLength)
		}
		for _, instr := range m.Instructions {
			d.line("    %04X: %s", instr.Offset, d.instructionOperand(instr))
		}
	}
}

// instructionOperand renders one decoded instruction's opcode and
// operand, resolving an inline token operand through the same tables an
// emitted instruction would have rewritten it against, so a reader can
// see what the renumbered byte-code actually addresses.
func (d *Dumper) instructionOperand(instr pe.Instruction) string {
	opcode := "0x" + strconv.FormatUint(uint64(instr.Opcode), 16)
	switch instr.OperandKind {
	case pe.OperandInlineMethod:
		id, err := d.c.ResolveMethodOperand(instr.Token)
		if err != nil {
			return opcode + " <unresolved method>"
		}
		table, row1 := splitToken(instr.Token)
		return opcode + " " + d.token(id&^ExternalBit, uint32(table), row1)
	case pe.OperandInlineField:
		id, err := d.c.ResolveFieldOperand(instr.Token)
		if err != nil {
			return opcode + " <unresolved field>"
		}
		table, row1 := splitToken(instr.Token)
		return opcode + " " + d.token(id&^ExternalBit, uint32(table), row1)
	case pe.OperandInlineType:
		id, err := d.c.ResolveTypeOperand(instr.Token)
		if err != nil {
			return opcode + " <unresolved type>"
		}
		table, row1 := splitToken(instr.Token)
		return opcode + " " + d.token(id, uint32(table), row1)
	case pe.OperandInlineString:
		id, err := d.c.ResolveStringOperand(instr.Token)
		if err != nil {
			return opcode + " <unresolved string>"
		}
		return opcode + " " + d.token(id, 0x70, 0) // #US heap, no table row
	case pe.OperandBranch:
		return opcode + fmt.Sprintf(" -> %d", instr.Offset+instr.Length+int(instr.Token))
	default:
		return opcode
	}
}

func localTypeNames(locals []pe.SigType) []string {
	names := make([]string, len(locals))
	for i, l := range locals {
		names[i] = fmt.Sprintf("#%d kind=%02X", i, l.Kind)
	}
	return names
}

func (d *Dumper) dumpTypeSpecs() {
	d.heading("== type-specs ==")
	for id, sigID := range d.c.TypeSpecs.all() {
		row0, ok := typeSpecRowForID(d.c, uint16(id))
		if !ok {
			d.line("%s\tsig=%04X", d.token(uint16(id), pe.TypeSpec, 0), sigID)
			continue
		}
		d.line("%s\tsig=%04X", d.token(uint16(id), pe.TypeSpec, row0+1), sigID)
	}
}

// typeSpecRowForID recovers the first loader TypeSpec row that resolved
// to id, from the memoization map resolveTypeSpecID maintains.
func typeSpecRowForID(c *Context, id uint16) (uint32, bool) {
	for row0, rid := range c.typeSpecByRow {
		if rid == id {
			return row0, true
		}
	}
	return 0, false
}

func (d *Dumper) dumpMethodSpecs() {
	d.heading("== method-specs ==")
	for id, rec := range d.c.MethodSpecs.all() {
		row1 := uint32(0)
		if row0, ok := methodSpecRowForID(d.c, uint16(id)); ok {
			row1 = row0 + 1
		}
		d.line("%s\ttype-spec=%s\tmethod=%04X\tsig=%04X",
			d.token(uint16(id), pe.MethodSpec, row1), hexOrAbsent(rec.typeSpecID), rec.methodDefID, rec.instSigID)
	}
}

// hexOrAbsent renders a 16-bit id as hex, or "----" for IDAbsent (a
// method-spec whose instantiated method isn't declared on a generic
// type-spec, so it carries no declaring-type-spec id).
func hexOrAbsent(id uint16) string {
	if id == IDAbsent {
		return "----"
	}
	return fmt.Sprintf("%04X", id)
}

// methodSpecRowForID recovers the first loader MethodSpec row that
// resolved to id, from the memoization map resolveMethodSpecID
// maintains, mirroring typeSpecRowForID.
func methodSpecRowForID(c *Context, id uint16) (uint32, bool) {
	for row0, rid := range c.methodSpecByRow {
		if rid == id {
			return row0, true
		}
	}
	return 0, false
}

func (d *Dumper) dumpAttributes() {
	d.heading("== attributes ==")
	for i, r := range d.c.Attributes.records {
		d.line("%s\towner=%s:%04X\tctor=%04X\tsig=%04X",
			d.token(uint16(i), pe.CustomAttribute, r.origRow+1), r.ownerTag, r.ownerID, r.ctorRefID, r.sigID)
	}
}

func (d *Dumper) dumpStrings() {
	d.heading("== strings ==")
	ids := d.c.Strings.sortedIDs()
	for _, id := range ids {
		s, _ := d.c.Strings.TryGetString(id)
		d.line("%04X\t%s", id, strconv.Quote(s))
	}
}

func (d *Dumper) dumpUserStrings() {
	d.heading("== user-strings ==")
	offsets := make([]uint32, 0, len(d.c.asm.UserStrings))
	for offset := range d.c.asm.UserStrings {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	for _, offset := range offsets {
		s := d.c.asm.UserStrings[offset]
		d.line("%08X\t%04X\t%s", offset, len(s), strconv.Quote(s))
	}
}

func dataTypeName(dt uint8) string {
	switch dt {
	case 1:
		return "valuetype"
	case 2:
		return "enum"
	case 3:
		return "interface"
	default:
		return "class"
	}
}

// findAssemblyRefRow recovers a representative source AssemblyRef row
// (1-based) for a dedup-interned name, for the dump's original-token
// annotation; the table itself only remembers the name, since several
// source rows can resolve to the same interned entry.
func findAssemblyRefRow(asm *pe.Assembly, name string) (uint32, bool) {
	for i, ar := range asm.AssemblyRefs {
		if ar.Name == name {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

func findTypeRefRow(asm *pe.Assembly, fqn string) (uint32, bool) {
	for i, tr := range asm.TypeRefs {
		if typeRefFQN(tr) == fqn {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

func findFieldRefRow(asm *pe.Assembly, key fieldRefKey) (uint32, bool) {
	for i, mr := range asm.MemberRefs {
		if !mr.IsField || mr.Name != key.name {
			continue
		}
		if memberRefClassKey(asm, mr) != key.declaringFQN {
			continue
		}
		return uint32(i + 1), true
	}
	return 0, false
}

func findMethodRefRow(asm *pe.Assembly, key methodRefKey) (uint32, bool) {
	for i, mr := range asm.MemberRefs {
		if mr.IsField || mr.Name != key.name {
			continue
		}
		if memberRefClassKey(asm, mr) != key.declaringFQN {
			continue
		}
		return uint32(i + 1), true
	}
	return 0, false
}

// memberRefClassKey reproduces typeHandleKey without a live Context,
// since the dumper's row-finders run over the raw loader object graph
// rather than through the context that originally computed the key.
func memberRefClassKey(asm *pe.Assembly, mr pe.MemberRefInfo) string {
	switch mr.ClassHandle.Kind {
	case pe.TypeHandleDef:
		return "D:" + fqnOf(asm, mr.ClassHandle.DefRow-1)
	case pe.TypeHandleRef:
		return "R:" + typeRefFQN(asm.TypeRefs[mr.ClassHandle.RefRow-1])
	case pe.TypeHandleSpec:
		return fmt.Sprintf("S:%d", mr.ClassHandle.SpecRow)
	default:
		return "?"
	}
}
