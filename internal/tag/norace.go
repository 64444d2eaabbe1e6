//go:build !race
// +build !race

package tag

const Race = false
