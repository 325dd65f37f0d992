//go:build !wire_debug

package wire

// debugChecks is compiled out unless built with -tags wire_debug. The
// use-after-dispose checks in Memory and Preserve then cost nothing in
// production builds; Dispose's own check for a negative ref-count stays.
const debugChecks = false

func assertLive(*Lease) {}
