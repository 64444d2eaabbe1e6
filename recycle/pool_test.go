package recycle

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/skipor/memkv/internal/tag"
	"github.com/skipor/memkv/testutil"
)

var _ = Describe("Pool create", func() {
	It("nil sizes use defaults", func() {
		Expect(NewPoolSizes(nil).sizes).To(Equal(DefaultSizes))
	})
	It("unsorted sizes", func() {
		Expect(func() { NewPoolSizes([]int{1 << 10, 1 << 8}) }).To(Panic())
	})
	It("duplicates", func() {
		Expect(func() { NewPoolSizes([]int{1 << 8, 1 << 10, 1 << 10}) }).To(Panic())
	})
	It("non positive", func() {
		Expect(func() { NewPoolSizes([]int{0, 1 << 10}) }).To(Panic())
	})
})

var _ = Describe("Pool", func() {
	var p *Pool
	BeforeEach(func() {
		p = NewPoolSizes([]int{1 << 8, 1 << 10})
	})

	It("small buffer", func() {
		b := p.Get(10)
		Expect(b).To(HaveLen(10))
		Expect(cap(b)).To(Equal(10))
		p.Put(b)
	})

	It("size class", func() {
		b := p.Get(300)
		Expect(b).To(HaveLen(300))
		Expect(cap(b)).To(Equal(1 << 10))
		p.Put(b)
	})

	It("exact class size", func() {
		b := p.Get(1 << 8)
		Expect(cap(b)).To(Equal(1 << 8))
		p.Put(b)
	})

	It("larger than max", func() {
		b := p.Get(1<<10 + 1)
		Expect(b).To(HaveLen(1<<10 + 1))
		p.Put(b)
	})

	It("foreign buffer", func() {
		Expect(func() { p.Put(make([]byte, 1000)) }).To(Panic())
	})

	It("reuse", func() {
		if tag.Race {
			Skip("sync.Pool randomly drops items when race detector is on")
		}
		b := p.Get(200)
		b[0] = 'x'
		p.Put(b)
		reused := p.Get(200)
		Expect(&reused[0]).To(BeIdenticalTo(&b[0]))
	})

	Context("read", func() {
		It("ok", func() {
			data := testutil.RandBytes(700)
			b, err := p.Read(bytes.NewReader(data), len(data))
			Expect(err).NotTo(HaveOccurred())
			testutil.ExpectBytesEqual(b, data)
		})
		It("unexpected EOF", func() {
			_, err := p.Read(bytes.NewReader(testutil.RandBytes(100)), 200)
			Expect(err).To(Equal(io.ErrUnexpectedEOF))
		})
	})
})
