//go:build race
// +build race

package tag

// Race is true when binary built with race detector.
const Race = true
