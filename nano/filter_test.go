// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "testing"

func TestIgnoredAttributeSetDuplicateAbsorbed(t *testing.T) {
	s := NewIgnoredAttributeSet()
	if !s.Ignored("System.Reflection.DefaultMemberAttribute") {
		t.Fatal("DefaultMemberAttribute should be ignored despite being listed twice")
	}
	if s.Ignored("System.NotIgnoredAttribute") {
		t.Fatal("an unlisted attribute must not be reported as ignored")
	}
}

func TestExcludedTypeSet(t *testing.T) {
	s := NewExcludedTypeSet([]string{"MyApp.Internal.Helper"})
	if !s.Excluded("MyApp.Internal.Helper") {
		t.Fatal("listed type should be excluded")
	}
	if s.Excluded("MyApp.Public.Thing") {
		t.Fatal("unlisted type should not be excluded")
	}
}

func TestExcludedTypeSetNilExcludesNothing(t *testing.T) {
	var s *ExcludedTypeSet
	if s.Excluded("Anything") {
		t.Fatal("a nil ExcludedTypeSet must exclude nothing")
	}
}
