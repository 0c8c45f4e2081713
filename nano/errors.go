// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

import "errors"

// Sentinel errors for the three kinds of lowering failure §7 defines,
// plus the minimize-complete gate error.
var (
	// ErrUnresolvedReference means a required declaring type, method or
	// field could not be mapped to any table.
	ErrUnresolvedReference = errors.New("nano: unresolved reference")

	// ErrUnsupportedConstruct means a signature or instruction operand
	// requires a format element the nano runtime does not accept.
	ErrUnsupportedConstruct = errors.New("nano: unsupported construct")

	// ErrInvariantViolation means a record-width assertion failed during
	// emission.
	ErrInvariantViolation = errors.New("nano: invariant violation")

	// ErrNotMinimized is returned by Emit when the context has not
	// reached minimize-complete. The tables' own Write methods do not
	// return it: they short-circuit silently (§4.5's "Failure" rule).
	ErrNotMinimized = errors.New("nano: tables context has not completed minimization")
)
