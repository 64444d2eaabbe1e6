package testutil

import (
	"bytes"
	"fmt"
	"net"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const maxPrintableLen = 1024

func Byf(format string, args ...interface{}) {
	By(fmt.Sprintf(format, args...))
	fmt.Fprintln(GinkgoWriter)
}

// ExpectBytesEqual have much less overhead for large byte chunks but ginkgo.Equal.
func ExpectBytesEqual(a, b []byte) {
	ExpectBytesEqualWithOffset(1, a, b)
}

func ExpectBytesEqualWithOffset(off int, a, b []byte) {
	off++
	if bytes.Equal(a, b) {
		return
	}
	if len(a)+len(b) <= 2*maxPrintableLen {
		ExpectWithOffset(off, a).To(Equal(b))
	}
	ExpectWithOffset(off, len(a)).To(Equal(len(b)), "Length are unequal and data is too large to print.")
	for i, ab := range a {
		if ab != b[i] {
			end := i + maxPrintableLen
			if end > len(a) {
				end = len(a)
			}
			ExpectWithOffset(off, a[i:end]).To(Equal(b[i:end]), "Skiped %v equal bytes.", i)
		}
	}
}

func TmpFileName() string {
	f, err := os.CreateTemp("", "go_test_tmp_")
	Expect(err).To(BeNil())
	filename := f.Name()
	err = f.Close()
	Expect(err).To(BeNil())
	err = os.Remove(filename)
	Expect(err).To(BeNil())
	return filename
}

// FreeAddr returns loopback address with port that was free at call moment.
func FreeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := l.Addr().String()
	Expect(l.Close()).To(Succeed())
	return addr
}
