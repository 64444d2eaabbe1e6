//go:build debug
// +build debug

// Gomega should not be dependency in non-debug build.

package cache

import (
	"errors"
	"log"

	"github.com/facebookgo/stackerr"
	. "github.com/onsi/gomega"
)

var _ = func() (_ struct{}) {
	RegisterFailHandler(GomegaFailHandler)
	return
}()

func GomegaFailHandler(message string, callerSkip ...int) {
	skip := 1
	if len(callerSkip) > 0 {
		skip += callerSkip[0]
	}
	log.Fatal("FATAL: invariants are broken:", stackerr.WrapSkip(errors.New(message), skip))
}

func (l *list) checkInvariants() {
	var (
		actualSize int64
		items      int
		prev       = nilSlot
	)
	for s := l.head; s != nilSlot; prev, s = s, l.at(s).next {
		e := l.at(s)
		items++
		actualSize += e.size()
		Expect(e.prev).To(Equal(prev), "broken back link of %q", e.key)
		ts, ok := l.table[e.key]
		Expect(ok).To(BeTrue(), "no table ref to %q", e.key)
		Expect(ts).To(Equal(s), "table refs %q to another slot", e.key)
	}
	Expect(l.tail).To(Equal(prev), "tail is not last linked entry")
	ExpectWithOffset(1, items).To(Equal(len(l.table)), "too many items in table")
	ExpectWithOffset(1, actualSize).To(Equal(l.size), "size mismatch")
	ExpectWithOffset(1, l.size).To(BeNumerically("<=", l.maxSize), "total overflow")
	ExpectWithOffset(1, items+len(l.free)).To(Equal(len(l.entries)), "slot leak")
}
