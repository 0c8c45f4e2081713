// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import (
	"encoding/binary"
)

// sectionCount is the number of table sections §6's output layout
// names, in fixed order: assembly-refs, type-refs, field-refs,
// method-refs, type-defs, field-defs, method-defs, attributes,
// type-specs, resources, resource-data, signatures, strings, byte-code,
// resource-files, plus a trailing method-specs section. §6 fixes the
// first fifteen; method-specs is appended after resource-files rather
// than inserted among them, so every offset a consumer already computed
// against the documented fifteen still lands correctly — a 32-bit
// ldtoken wire token can name TBL_MethodSpec (§6's tag list), so its
// rows need a section to dereference against like every other table.
const sectionCount = 16

// magic identifies a nano image; version is this emitter's wire format
// revision, bumped whenever a record layout or section order changes.
const (
	magic   = "NANO"
	version = uint16(1)
)

// headerSize is magic (4) + version (2) + flags (2) + sectionCount
// section descriptors of (offset uint32, length uint32).
const headerSize = 4 + 2 + 2 + sectionCount*8

// flag bits recorded in the header, §4.7's attributes-compression
// switch being the only one the pipeline currently needs.
const (
	flagAttributesCompressed uint16 = 0x0001
)

// Emit serializes a built context into the final nano image: a fixed
// header (magic, version, flags, one (offset, length) pair per
// section) followed by the sixteen sections in sectionCount's order,
// each padded to 4-byte alignment. Build must have completed (the gate open)
// before this is called; ErrNotMinimized otherwise, so a caller can
// never walk away with a header pointing at tables that silently wrote
// out empty.
func Emit(c *Context, compressAttributes bool) ([]byte, error) {
	if !c.gate.Complete() {
		return nil, ErrNotMinimized
	}

	sections := [sectionCount][]byte{
		c.AssemblyRefs.Write(),
		c.TypeRefs.Write(),
		c.FieldRefs.Write(),
		c.MethodRefs.Write(),
		c.TypeDefs.Write(),
		c.FieldDefs.Write(),
		c.MethodDefs.Write(),
		c.Attributes.Write(compressAttributes),
		c.TypeSpecs.Write(),
		c.Resources.Write(),
		c.ResourceData.Write(),
		c.Signatures.Write(),
		c.Strings.Write(),
		c.ByteCode.Write(),
		c.ResourceFiles.Write(),
		c.MethodSpecs.Write(),
	}

	var flags uint16
	if compressAttributes {
		flags |= flagAttributesCompressed
	}

	out := make([]byte, headerSize)
	copy(out[0:4], magic)
	binary.LittleEndian.PutUint16(out[4:6], version)
	binary.LittleEndian.PutUint16(out[6:8], flags)

	offset := uint32(headerSize)
	for i, sec := range sections {
		descOff := 8 + i*8
		length := uint32(len(sec))
		binary.LittleEndian.PutUint32(out[descOff:descOff+4], offset)
		binary.LittleEndian.PutUint32(out[descOff+4:descOff+8], length)

		out = append(out, sec...)
		offset += length
		if pad := align4(length); pad > 0 {
			out = append(out, make([]byte, pad)...)
			offset += uint32(pad)
		}
	}
	return out, nil
}

// align4 returns the number of padding bytes needed to bring n up to
// the next multiple of 4, §6.
func align4(n uint32) uint32 {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}
