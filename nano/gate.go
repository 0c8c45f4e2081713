// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nano

// MinimizeGate is the one-way "minimize-complete" latch §5 and §4.5
// describe: before it is set no table may write, and once set no table
// may accept new items.
type MinimizeGate struct {
	complete bool
}

// Complete reports whether minimization has finished.
func (g *MinimizeGate) Complete() bool {
	return g != nil && g.complete
}

// Set flips the latch. One-way: calling it twice is harmless but the
// second call has no further effect.
func (g *MinimizeGate) Set() {
	g.complete = true
}
