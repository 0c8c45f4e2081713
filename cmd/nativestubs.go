// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saferwall/nanometa/nano"
)

// writeNativeStubs is the supplemented "native-stubs-output directory"
// feature SPEC_FULL.md §4 adds: spec.md's CLI surface names the flag
// without describing its output. A native stub calling back into lowered
// IL needs exactly one thing per method it wants to invoke: the RVA its
// body was emitted at, addressed by the same renumbered nano token the
// dump already renders. This emits one C header per surviving type,
// named after the type, with one `#define` per method mapping its
// `[<4-hex-id>]`-style token to its byte-code RVA.
func writeNativeStubs(ctx *nano.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for tid := 0; tid < ctx.TypeDefs.Len(); tid++ {
		entry := ctx.TypeDefs.Entry(uint16(tid))
		if entry.MethodCount == 0 {
			continue
		}

		typeName, _ := ctx.Strings.TryGetString(entry.NameID)
		if typeName == "" {
			typeName = fmt.Sprintf("Type_%04X", tid)
		}

		path := filepath.Join(dir, sanitizeFileName(typeName)+".h")
		if err := writeTypeStub(path, typeName, uint16(tid), ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func writeTypeStub(path, typeName string, typeID uint16, ctx *nano.Context, entry nano.TypeDefEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	guard := "NANOMETA_STUB_" + strings.ToUpper(sanitizeFileName(typeName))
	fmt.Fprintf(f, "/* generated by nanometa lower --native-stubs, do not edit */\n")
	fmt.Fprintf(f, "#ifndef %s\n#define %s\n\n", guard, guard)
	fmt.Fprintf(f, "/* %s, nano type token [%04X] */\n\n", typeName, typeID)

	for i := 0; i < entry.MethodCount; i++ {
		methodID := entry.FirstMethodID + uint16(i)
		m := ctx.MethodDefs.Entry(methodID)
		name, _ := ctx.Strings.TryGetString(m.NameID)
		if name == "" {
			name = fmt.Sprintf("method_%04X", methodID)
		}
		fmt.Fprintf(f, "#define NANO_RVA_%s_%s 0x%08Xu /* [%04X] */\n",
			sanitizeFileName(typeName), sanitizeFileName(name), m.RVA, methodID)
	}

	fmt.Fprintf(f, "\n#endif /* %s */\n", guard)
	return nil
}

// sanitizeFileName strips characters that are not safe in a C
// identifier or a file name (generics' backtick-arity suffix, nested
// type separators, namespace dots, constructor dots).
func sanitizeFileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	return out
}
