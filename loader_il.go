// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"fmt"
)

// CorILMethod header flags, §II.25.4.1 / §II.25.4.4.
const (
	corILMethodTinyFormat  = 0x2
	corILMethodFatFormat   = 0x3
	corILMethodFormatMask  = 0x3
	corILMethodMoreSects   = 0x8
	corILMethodInitLocals  = 0x10
	corILMethodSectEHTable = 0x1
	corILMethodSectFatFmt  = 0x40
	corILMethodSectMoreSec = 0x80
)

type opInfo struct {
	kind   OperandKind
	opSize int // bytes of operand following the opcode, -1 for `switch`
}

// oneByteOps classifies the single-byte CIL opcode space. Opcodes not
// listed default to {OperandNone, 0}.
var oneByteOps = map[byte]opInfo{
	0x0e: {OperandImmediate, 1}, // ldarg.s
	0x0f: {OperandImmediate, 1}, // ldarga.s
	0x10: {OperandImmediate, 1}, // starg.s
	0x11: {OperandImmediate, 1}, // ldloc.s
	0x12: {OperandImmediate, 1}, // ldloca.s
	0x13: {OperandImmediate, 1}, // stloc.s
	0x15: {OperandNone, 0},      // ldc.i4.m1
	0x16: {OperandImmediate, 0}, // ldc.i4.0
	0x1f: {OperandImmediate, 1}, // ldc.i4.s
	0x20: {OperandImmediate, 4}, // ldc.i4
	0x21: {OperandImmediate, 8}, // ldc.i8
	0x22: {OperandImmediate, 4}, // ldc.r4
	0x23: {OperandImmediate, 8}, // ldc.r8
	0x27: {OperandInlineMethod, 4}, // jmp
	0x28: {OperandInlineMethod, 4},
	0x29: {OperandInlineSig, 4}, // calli
	0x2a: {OperandNone, 0},      // ret
	0x2b: {OperandBranch, 1},    // br.s
	0x2c: {OperandBranch, 1},    // brfalse.s
	0x2d: {OperandBranch, 1},    // brtrue.s
	0x2e: {OperandBranch, 1},    // beq.s
	0x2f: {OperandBranch, 1},    // bge.s
	0x30: {OperandBranch, 1},    // bgt.s
	0x31: {OperandBranch, 1},    // ble.s
	0x32: {OperandBranch, 1},    // blt.s
	0x33: {OperandBranch, 1},    // bne.un.s
	0x34: {OperandBranch, 1},    // bge.un.s
	0x35: {OperandBranch, 1},    // bgt.un.s
	0x36: {OperandBranch, 1},    // ble.un.s
	0x37: {OperandBranch, 1},    // blt.un.s
	0x38: {OperandBranch, 4},    // br
	0x39: {OperandBranch, 4},    // brfalse
	0x3a: {OperandBranch, 4},    // brtrue
	0x3b: {OperandBranch, 4},    // beq
	0x3c: {OperandBranch, 4},    // bge
	0x3d: {OperandBranch, 4},    // bgt
	0x3e: {OperandBranch, 4},    // ble
	0x3f: {OperandBranch, 4},    // blt
	0x40: {OperandBranch, 4},    // bne.un
	0x41: {OperandBranch, 4},    // bge.un
	0x42: {OperandBranch, 4},    // bgt.un
	0x43: {OperandBranch, 4},    // ble.un
	0x44: {OperandBranch, 4},    // blt.un
	0x45: {OperandImmediate, -1}, // switch
	0x46: {OperandNone, 0},
	0x58: {OperandNone, 0},
	0x6f: {OperandInlineMethod, 4}, // callvirt
	0x70: {OperandInlineType, 4},   // cpobj
	0x71: {OperandInlineType, 4},   // ldobj
	0x72: {OperandInlineString, 4}, // ldstr
	0x73: {OperandInlineMethod, 4}, // newobj
	0x74: {OperandInlineType, 4},   // castclass
	0x75: {OperandInlineType, 4},   // isinst
	0x79: {OperandInlineType, 4},   // unbox
	0x7b: {OperandInlineField, 4},  // ldfld
	0x7c: {OperandInlineField, 4},  // ldflda
	0x7d: {OperandInlineField, 4},  // stfld
	0x7e: {OperandInlineField, 4},  // ldsfld
	0x7f: {OperandInlineField, 4},  // ldsflda
	0x80: {OperandInlineField, 4},  // stsfld
	0x81: {OperandInlineType, 4},   // stobj
	0x8c: {OperandInlineType, 4},   // box
	0x8d: {OperandInlineType, 4},   // newarr
	0x8f: {OperandInlineType, 4},   // ldelema
	0xa2: {OperandNone, 0},         // stelem.ref
	0xa3: {OperandInlineType, 4},   // ldelem
	0xa4: {OperandInlineType, 4},   // stelem
	0xa5: {OperandInlineType, 4},   // unbox.any
	0xc2: {OperandInlineType, 4},   // refanyval
	0xc6: {OperandInlineType, 4},   // mkrefany
	0xd0: {OperandInlineTok, 4},    // ldtoken
	0xd1: {OperandImmediate, 0},
	0xd3: {OperandImmediate, 0},
	0xdd: {OperandBranch, 4},       // leave
	0xde: {OperandBranch, 1},       // leave.s
	0xe0: {OperandImmediate, 0},
}

// twoByteOps classifies the 0xFE-prefixed opcode space.
var twoByteOps = map[byte]opInfo{
	0x06: {OperandInlineMethod, 4}, // ldftn
	0x07: {OperandInlineMethod, 4}, // ldvirtftn
	0x09: {OperandImmediate, 2},    // ldarg
	0x0a: {OperandImmediate, 2},    // ldarga
	0x0b: {OperandImmediate, 2},    // starg
	0x0c: {OperandImmediate, 2},    // ldloc
	0x0d: {OperandImmediate, 2},    // ldloca
	0x0e: {OperandImmediate, 2},    // stloc
	0x12: {OperandImmediate, 1},    // unaligned.
	0x15: {OperandInlineType, 4},   // initobj
	0x16: {OperandInlineType, 4},   // constrained.
	0x19: {OperandImmediate, 1},    // no.
	0x1a: {OperandNone, 0},         // rethrow
	0x1c: {OperandInlineType, 4},   // sizeof
}

func lookupOp(opcode uint16) opInfo {
	if opcode&0xFF00 == 0xFE00 {
		if info, ok := twoByteOps[byte(opcode)]; ok {
			return info
		}
		return opInfo{OperandNone, 0}
	}
	if info, ok := oneByteOps[byte(opcode)]; ok {
		return info
	}
	return opInfo{OperandNone, 0}
}

// decodeMethodBody reads and decodes a method body at file-relative rva,
// §II.25.4.
func (pe *File) decodeMethodBody(rva uint32) (maxStack uint16, initLocals bool, localsSigTok uint32, instrs []Instruction, ehs []ExceptionHandler, err error) {
	off := pe.GetOffsetFromRva(rva)
	headByte, err := pe.ReadUint8(off)
	if err != nil {
		return 0, false, 0, nil, nil, err
	}

	var codeOff, codeSize uint32
	switch headByte & corILMethodFormatMask {
	case corILMethodTinyFormat:
		codeSize = uint32(headByte >> 2)
		maxStack = 8
		codeOff = off + 1
	case corILMethodFatFormat:
		var flags uint16
		if flags, err = pe.ReadUint16(off); err != nil {
			return
		}
		headerSizeDwords := flags >> 12
		if maxStack, err = pe.ReadUint16(off + 2); err != nil {
			return
		}
		if codeSize, err = pe.ReadUint32(off + 4); err != nil {
			return
		}
		if localsSigTok, err = pe.ReadUint32(off + 8); err != nil {
			return
		}
		initLocals = flags&corILMethodInitLocals != 0
		codeOff = off + uint32(headerSizeDwords)*4

		if flags&corILMethodMoreSects != 0 {
			sectOff := codeOff + codeSize
			sectOff = (sectOff + 3) &^ 3
			ehs, err = pe.decodeEHSections(sectOff)
			if err != nil {
				return
			}
		}
	default:
		return 0, false, 0, nil, nil, fmt.Errorf("invalid method header format %#x", headByte&corILMethodFormatMask)
	}

	instrs, err = pe.decodeInstructions(codeOff, codeSize)
	return
}

func (pe *File) decodeInstructions(off, size uint32) ([]Instruction, error) {
	var instrs []Instruction
	pos := uint32(0)
	for pos < size {
		start := pos
		b, err := pe.ReadUint8(off + pos)
		if err != nil {
			return nil, err
		}
		var opcode uint16
		if b == 0xFE {
			b2, err := pe.ReadUint8(off + pos + 1)
			if err != nil {
				return nil, err
			}
			opcode = 0xFE00 | uint16(b2)
			pos += 2
		} else {
			opcode = uint16(b)
			pos++
		}

		info := lookupOp(opcode)
		instr := Instruction{Offset: int(start), Opcode: opcode, OperandKind: info.kind}

		switch {
		case info.opSize == -1: // switch: u4 count, then count*i4 relative targets
			count, err := pe.ReadUint32(off + pos)
			if err != nil {
				return nil, err
			}
			pos += 4
			baseOffset := pos + count*4
			for i := uint32(0); i < count; i++ {
				rel, err := pe.ReadUint32(off + pos)
				if err != nil {
					return nil, err
				}
				instr.Targets = append(instr.Targets, int32(baseOffset)+int32(rel))
				pos += 4
			}
		case info.opSize == 1:
			v, err := pe.ReadUint8(off + pos)
			if err != nil {
				return nil, err
			}
			if info.kind == OperandBranch {
				instr.Token = int64(int8(v))
			} else {
				instr.Token = int64(v)
			}
			pos++
		case info.opSize == 2:
			v, err := pe.ReadUint16(off + pos)
			if err != nil {
				return nil, err
			}
			instr.Token = int64(v)
			pos += 2
		case info.opSize == 4:
			v, err := pe.ReadUint32(off + pos)
			if err != nil {
				return nil, err
			}
			if info.kind == OperandBranch {
				instr.Token = int64(int32(v))
			} else {
				instr.Token = int64(v)
			}
			pos += 4
		case info.opSize == 8:
			v, err := pe.ReadUint64(off + pos)
			if err != nil {
				return nil, err
			}
			instr.Token = int64(v)
			pos += 8
		}

		instr.Length = int(pos - start)
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func (pe *File) decodeEHSections(off uint32) ([]ExceptionHandler, error) {
	var all []ExceptionHandler
	for {
		kind, err := pe.ReadUint8(off)
		if err != nil {
			return nil, err
		}
		isFat := kind&corILMethodSectFatFmt != 0
		isEH := kind&corILMethodSectEHTable != 0
		more := kind&corILMethodSectMoreSec != 0

		var dataSize uint32
		var clauseStart uint32
		if isFat {
			b := make([]byte, 4)
			for i := 0; i < 4; i++ {
				v, err := pe.ReadUint8(off + uint32(i))
				if err != nil {
					return nil, err
				}
				b[i] = v
			}
			dataSize = binary.LittleEndian.Uint32([]byte{b[1], b[2], b[3], 0})
			clauseStart = off + 4
		} else {
			sz, err := pe.ReadUint8(off + 1)
			if err != nil {
				return nil, err
			}
			dataSize = uint32(sz)
			clauseStart = off + 4
		}

		if isEH {
			handlers, err := pe.decodeEHClauses(clauseStart, dataSize, isFat)
			if err != nil {
				return nil, err
			}
			all = append(all, handlers...)
		}

		if !more {
			break
		}
		off = (clauseStart + dataSize + 3) &^ 3
	}
	return all, nil
}

func (pe *File) decodeEHClauses(off, dataSize uint32, fat bool) ([]ExceptionHandler, error) {
	var out []ExceptionHandler
	if fat {
		clauseSize := uint32(24)
		n := dataSize / clauseSize
		for i := uint32(0); i < n; i++ {
			base := off + i*clauseSize
			flags, err := pe.ReadUint32(base)
			if err != nil {
				return nil, err
			}
			tryOff, err := pe.ReadUint32(base + 4)
			if err != nil {
				return nil, err
			}
			tryLen, err := pe.ReadUint32(base + 8)
			if err != nil {
				return nil, err
			}
			hOff, err := pe.ReadUint32(base + 12)
			if err != nil {
				return nil, err
			}
			hLen, err := pe.ReadUint32(base + 16)
			if err != nil {
				return nil, err
			}
			tokenOrFilter, err := pe.ReadUint32(base + 20)
			if err != nil {
				return nil, err
			}
			eh := ExceptionHandler{
				Kind:          flags,
				TryOffset:     int(tryOff),
				TryLength:     int(tryLen),
				HandlerOffset: int(hOff),
				HandlerLength: int(hLen),
			}
			if flags == 1 {
				eh.FilterOffset = int(tokenOrFilter)
			} else {
				eh.ClassToken = tokenOrFilter
			}
			out = append(out, eh)
		}
	} else {
		clauseSize := uint32(12)
		n := dataSize / clauseSize
		for i := uint32(0); i < n; i++ {
			base := off + i*clauseSize
			flags, err := pe.ReadUint16(base)
			if err != nil {
				return nil, err
			}
			tryOff, err := pe.ReadUint16(base + 2)
			if err != nil {
				return nil, err
			}
			tryLen, err := pe.ReadUint8(base + 4)
			if err != nil {
				return nil, err
			}
			hOff, err := pe.ReadUint16(base + 5)
			if err != nil {
				return nil, err
			}
			hLen, err := pe.ReadUint8(base + 7)
			if err != nil {
				return nil, err
			}
			tokenOrFilter, err := pe.ReadUint32(base + 8)
			if err != nil {
				return nil, err
			}
			eh := ExceptionHandler{
				Kind:          uint32(flags),
				TryOffset:     int(tryOff),
				TryLength:     int(tryLen),
				HandlerOffset: int(hOff),
				HandlerLength: int(hLen),
			}
			if flags == 1 {
				eh.FilterOffset = int(tokenOrFilter)
			} else {
				eh.ClassToken = tokenOrFilter
			}
			out = append(out, eh)
		}
	}
	return out, nil
}
