// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"encoding/binary"

	pe "github.com/saferwall/nanometa"
)

// EHRecord is one rewritten exception handler, §4.6: offsets are bytes
// into this method's rewritten body, not the original one.
type EHRecord struct {
	Kind                     uint32
	TryStart, TryEnd         uint32
	HandlerStart, HandlerEnd uint32
	CatchTypeOrFilter        uint32
}

// MethodOperandResolver supplies the renumbered ids §4.6's rewriting
// rules need; the tables context implements this by looking a raw CIL
// token up across whichever reference/definition table claims it.
type MethodOperandResolver interface {
	ResolveMethodOperand(token int64) (id uint16, err error)
	ResolveFieldOperand(token int64) (id uint16, err error)
	ResolveTypeOperand(token int64) (id uint16, err error)
	ResolveStringOperand(token int64) (id uint16, err error)
	ResolveTokOperand(token int64) (wireToken uint32, err error)
	ResolveSigOperand(token int64) (id uint16, err error)
}

// ByteCodeTable is the single contiguous stream of rewritten method
// bodies, §4.6.
type ByteCodeTable struct {
	stream []byte
	gate   *MinimizeGate
}

// NewByteCodeTable constructs an empty stream gated by g.
func NewByteCodeTable(g *MinimizeGate) *ByteCodeTable {
	return &ByteCodeTable{gate: g}
}

// rewrittenInstr is the first pass's verdict on one instruction: its new
// position and length in the rewritten stream, computed before any
// branch target is known (renumbered operand ids change width, so
// lengths must settle before relative offsets can be recomputed).
type rewrittenInstr struct {
	newOffset int
	newLength int
	opcodeLen int // 1 or 2, bytes the opcode itself occupies
}

// ehRecordSize is the fixed width of one serialized EHRecord: kind,
// try-start, try-end, handler-start, handler-end, catch-type-or-filter,
// six u32 fields.
const ehRecordSize = 24

// AppendMethod rewrites one method's decoded instructions into the
// stream and returns (rva, exception handlers) where rva is the byte
// offset this method's body starts at. §4.6 emits exception handlers
// "alongside" each method but the output layout has no separate
// handler section, so this table writes them immediately before the
// body they protect: a u16 handler count, then that many fixed
// ehRecordSize records, then the body itself. rva addresses the start
// of this combined region — a byte-code reader reads the count first
// to know how far to skip before the instruction stream begins.
func (t *ByteCodeTable) AppendMethod(m *pe.MethodDefInfo, resolver MethodOperandResolver) (uint32, []EHRecord, error) {
	rva := uint32(len(t.stream))

	plan := make([]rewrittenInstr, len(m.Instructions))
	offsetMap := make(map[int]int, len(m.Instructions))
	cursor := 0
	for i, instr := range m.Instructions {
		opcodeLen := 1
		if instr.Opcode > 0xFF {
			opcodeLen = 2
		}
		newLen := opcodeLen + operandWidth(instr)
		plan[i] = rewrittenInstr{newOffset: cursor, newLength: newLen, opcodeLen: opcodeLen}
		offsetMap[instr.Offset] = cursor
		cursor += newLen
	}
	bodyEnd := cursor

	body := make([]byte, 0, bodyEnd)
	for i, instr := range m.Instructions {
		enc, err := encodeInstruction(instr, plan[i], offsetMap, bodyEnd, resolver)
		if err != nil {
			return 0, nil, err
		}
		body = append(body, enc...)
	}

	ehs := make([]EHRecord, 0, len(m.ExceptionHandlers))
	for _, eh := range m.ExceptionHandlers {
		catchOrFilter := eh.ClassToken
		if eh.Kind == 1 { // filter clause: the filter block's offset
			catchOrFilter = uint32(mapOffset(offsetMap, eh.FilterOffset, bodyEnd))
		}
		ehs = append(ehs, EHRecord{
			Kind:              eh.Kind,
			TryStart:          uint32(mapOffset(offsetMap, eh.TryOffset, bodyEnd)),
			TryEnd:            uint32(mapOffset(offsetMap, eh.TryOffset+eh.TryLength, bodyEnd)),
			HandlerStart:      uint32(mapOffset(offsetMap, eh.HandlerOffset, bodyEnd)),
			HandlerEnd:        uint32(mapOffset(offsetMap, eh.HandlerOffset+eh.HandlerLength, bodyEnd)),
			CatchTypeOrFilter: catchOrFilter,
		})
	}

	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(ehs)))
	t.stream = append(t.stream, count[:]...)
	for _, eh := range ehs {
		var rec [ehRecordSize]byte
		binary.LittleEndian.PutUint32(rec[0:4], eh.Kind)
		binary.LittleEndian.PutUint32(rec[4:8], eh.TryStart)
		binary.LittleEndian.PutUint32(rec[8:12], eh.TryEnd)
		binary.LittleEndian.PutUint32(rec[12:16], eh.HandlerStart)
		binary.LittleEndian.PutUint32(rec[16:20], eh.HandlerEnd)
		binary.LittleEndian.PutUint32(rec[20:24], eh.CatchTypeOrFilter)
		t.stream = append(t.stream, rec[:]...)
	}
	t.stream = append(t.stream, body...)
	return rva, ehs, nil
}

// operandWidth is how many bytes an instruction's operand occupies in
// the rewritten stream. Renumbered reference ids are always 16 bits
// regardless of the original 32-bit CIL token width; branch and
// immediate operands keep the source instruction's width, per §4.6.
func operandWidth(instr pe.Instruction) int {
	switch instr.OperandKind {
	case pe.OperandInlineMethod, pe.OperandInlineField, pe.OperandInlineType,
		pe.OperandInlineString, pe.OperandInlineSig:
		return 2
	case pe.OperandInlineTok:
		return 4
	case pe.OperandBranch:
		if len(instr.Targets) > 0 {
			return 4 + 4*len(instr.Targets) // switch: u4 count + count*i4 targets
		}
		return instr.Length - opcodeBytes(instr)
	case pe.OperandImmediate:
		if len(instr.Targets) > 0 {
			return 4 + 4*len(instr.Targets)
		}
		return instr.Length - opcodeBytes(instr)
	default:
		return 0
	}
}

func opcodeBytes(instr pe.Instruction) int {
	if instr.Opcode > 0xFF {
		return 2
	}
	return 1
}

// mapOffset maps an original-body byte offset to its rewritten
// position. An offset exactly at the body's end (a try/handler region's
// exclusive end) has no instruction starting there, so it resolves to
// the rewritten body's own end.
func mapOffset(offsetMap map[int]int, orig, bodyEnd int) int {
	if off, ok := offsetMap[orig]; ok {
		return off
	}
	return bodyEnd
}

// encodeInstruction rewrites one CIL instruction's operand per §4.6's
// rules.
func encodeInstruction(instr pe.Instruction, plan rewrittenInstr, offsetMap map[int]int, bodyEnd int, resolver MethodOperandResolver) ([]byte, error) {
	out := make([]byte, 0, plan.newLength)
	if instr.Opcode > 0xFF {
		out = append(out, 0xFE, byte(instr.Opcode))
	} else {
		out = append(out, byte(instr.Opcode))
	}

	if len(instr.Targets) > 0 {
		// `switch`: u4 count, then count relative i4 targets recomputed
		// against this instruction's new position.
		out = appendUint32(out, uint32(len(instr.Targets)))
		newAfter := plan.newOffset + plan.newLength
		for _, target := range instr.Targets {
			newTarget := mapOffset(offsetMap, int(target), bodyEnd)
			out = appendUint32(out, uint32(int32(newTarget-newAfter)))
		}
		return out, nil
	}

	switch instr.OperandKind {
	case pe.OperandInlineMethod:
		id, err := resolver.ResolveMethodOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint16(out, id)

	case pe.OperandInlineField:
		id, err := resolver.ResolveFieldOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint16(out, id)

	case pe.OperandInlineType:
		id, err := resolver.ResolveTypeOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint16(out, id)

	case pe.OperandInlineString:
		id, err := resolver.ResolveStringOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint16(out, id)

	case pe.OperandInlineTok:
		tok, err := resolver.ResolveTokOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint32(out, tok)

	case pe.OperandInlineSig:
		id, err := resolver.ResolveSigOperand(instr.Token)
		if err != nil {
			return nil, err
		}
		out = appendUint16(out, id)

	case pe.OperandBranch:
		originalTarget := instr.Offset + instr.Length + int(instr.Token)
		newTarget := mapOffset(offsetMap, originalTarget, bodyEnd)
		newAfter := plan.newOffset + plan.newLength
		rel := newTarget - newAfter
		if plan.newLength-plan.opcodeLen == 4 {
			out = appendUint32(out, uint32(int32(rel)))
		} else {
			out = append(out, byte(int8(rel)))
		}

	case pe.OperandImmediate:
		width := plan.newLength - plan.opcodeLen
		switch width {
		case 1:
			out = append(out, byte(instr.Token))
		case 2:
			out = appendUint16(out, uint16(instr.Token))
		case 4:
			out = appendUint32(out, uint32(instr.Token))
		case 8:
			out = appendUint64(out, uint64(instr.Token))
		}
	}
	return out, nil
}

// Write returns the byte-code section bytes.
func (t *ByteCodeTable) Write() []byte {
	if !t.gate.Complete() {
		return nil
	}
	return t.stream
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
