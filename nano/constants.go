// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

// wellKnownStrings is the compile-time constants table §4.3 describes:
// strings the nano runtime firmware already embeds, so an assembly that
// references one of them (a constructor name, a core type's namespace,
// ...) need not pay to carry it again in its own heap.
//
// Open design decision (not settled by spec.md, recorded in DESIGN.md):
// constant ids and heap byte-offset ids both naturally start at 0, so
// constant ids carry the same high-bit convention already used to mark
// reference ids "external" (§3) — ConstantStringBit set means "resolve
// against this fixed table, not the per-assembly heap".
const ConstantStringBit uint16 = 0x8000

// The empty string is deliberately absent here: §3 and §8's scenario 4
// both pin id("") == 0, a real heap offset, not a constant-table id.
var wellKnownStrings = []string{
	".ctor",
	".cctor",
	"System",
	"System.Object",
	"System.String",
	"System.Void",
	"System.Boolean",
	"System.Char",
	"System.SByte",
	"System.Byte",
	"System.Int16",
	"System.UInt16",
	"System.Int32",
	"System.UInt32",
	"System.Int64",
	"System.UInt64",
	"System.Single",
	"System.Double",
	"System.IntPtr",
	"System.UIntPtr",
	"System.Array",
	"System.Exception",
	"System.ValueType",
	"System.Enum",
	"<Module>",
	"value__",
}

func buildConstantsIndex() map[string]uint16 {
	idx := make(map[string]uint16, len(wellKnownStrings))
	for i, s := range wellKnownStrings {
		idx[s] = uint16(i) | ConstantStringBit
	}
	return idx
}
