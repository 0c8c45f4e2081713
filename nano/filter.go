// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

// ignoredAttributeNames are the assembly-level, debugger and
// compiler-internal attribute types the filter step drops, §1's "Filter"
// and §5's "Attributes" responsibility.
//
// System.Reflection.DefaultMemberAttribute is listed twice deliberately,
// mirroring the source list this was distilled from (§9's design note):
// IgnoredAttributeSet is a set, so the duplicate is absorbed rather than
// inflating a count anyone relies on.
var ignoredAttributeNames = []string{
	"System.Runtime.CompilerServices.CompilationRelaxationsAttribute",
	"System.Runtime.CompilerServices.RuntimeCompatibilityAttribute",
	"System.Diagnostics.DebuggableAttribute",
	"System.Reflection.AssemblyTitleAttribute",
	"System.Reflection.AssemblyDescriptionAttribute",
	"System.Reflection.AssemblyConfigurationAttribute",
	"System.Reflection.AssemblyCompanyAttribute",
	"System.Reflection.AssemblyProductAttribute",
	"System.Reflection.AssemblyCopyrightAttribute",
	"System.Reflection.AssemblyTrademarkAttribute",
	"System.Reflection.AssemblyCultureAttribute",
	"System.Reflection.AssemblyVersionAttribute",
	"System.Reflection.AssemblyFileVersionAttribute",
	"System.Reflection.DefaultMemberAttribute",
	"System.Reflection.DefaultMemberAttribute",
	"System.Runtime.CompilerServices.CompilerGeneratedAttribute",
	"System.Runtime.InteropServices.ComVisibleAttribute",
	"System.Runtime.InteropServices.GuidAttribute",
	"System.CLSCompliantAttribute",
	"System.Security.SuppressUnmanagedCodeSecurityAttribute",
}

// IgnoredAttributeSet answers membership in the ignored-attribute set,
// §4.1's first construction step.
type IgnoredAttributeSet struct {
	names map[string]bool
}

// NewIgnoredAttributeSet builds the set from the fixed list above.
func NewIgnoredAttributeSet() *IgnoredAttributeSet {
	s := &IgnoredAttributeSet{names: make(map[string]bool, len(ignoredAttributeNames))}
	for _, n := range ignoredAttributeNames {
		s.names[n] = true
	}
	return s
}

// Ignored reports whether a fully-qualified attribute type name is
// dropped.
func (s *IgnoredAttributeSet) Ignored(fqn string) bool {
	return s.names[fqn]
}

// ExcludedTypeSet answers membership in the user-supplied excluded-types
// list, applied when the type-ref table is built (§4.1's construction
// order) and again wherever a type-def is considered for inclusion.
type ExcludedTypeSet struct {
	names map[string]bool
}

// NewExcludedTypeSet builds a set from a list of fully-qualified type
// names, e.g. parsed from the CLI's excluded-types-list file.
func NewExcludedTypeSet(fqns []string) *ExcludedTypeSet {
	s := &ExcludedTypeSet{names: make(map[string]bool, len(fqns))}
	for _, n := range fqns {
		s.names[n] = true
	}
	return s
}

// Excluded reports whether a fully-qualified type name is excluded.
// A nil set excludes nothing.
func (s *ExcludedTypeSet) Excluded(fqn string) bool {
	if s == nil {
		return false
	}
	return s.names[fqn]
}
