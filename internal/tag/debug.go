//go:build debug
// +build debug

package tag

// Debug is true in builds with "debug" tag. Such builds check invariants
// after every cache operation and have large performance overhead.
const Debug = true
