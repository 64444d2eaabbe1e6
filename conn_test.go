package memkv

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gbytes"
	"github.com/stretchr/testify/mock"

	"github.com/skipor/memkv/cache/cachemocks"
	"github.com/skipor/memkv/log"
	. "github.com/skipor/memkv/testutil"
)

const ReadTimeout = 0.2

var _ = Describe("Conn", func() {
	var (
		connMeta      *ConnMeta
		storage       *cachemocks.Storage
		c             *conn
		out           *Buffer
		in            *io.PipeWriter
		serveFinished chan struct{}
	)
	BeforeEach(func() {
		serveFinished = make(chan struct{})
		out = NewBuffer()
		storage = &cachemocks.Storage{}
		var connReader *io.PipeReader
		connReader, in = io.Pipe()
		connMeta = &ConnMeta{
			Storage: storage,
		}
		connMeta.init()
		rwc := struct {
			io.ReadCloser
			io.Writer
		}{connReader, out}
		l := log.NewLogger(log.DebugLevel, GinkgoWriter)
		c = newConn(l, connMeta, rwc)
		go func() {
			defer GinkgoRecover()
			c.serve()
			close(serveFinished)
		}()
	})

	AfterEach(func() {
		in.Close()
		Eventually(serveFinished).Should(BeClosed())
		Expect(out).NotTo(Say(Anything))
		storage.AssertExpectations(GinkgoT())
	})

	AssertSay := func(pattern string) {
		It("expected response", func() {
			Eventually(out, ReadTimeout).Should(Say(pattern))
		})
	}

	// Test can use input string, or write to in directly.
	var input string
	JustBeforeEach(func() {
		if input != "" {
			io.WriteString(in, input)
		}
	})
	AfterEach(func() { input = "" })
	Input := func(s string) {
		BeforeEach(func() { input = s })
	}

	Context("server error", func() {
		BeforeEach(func() {
			in.CloseWithError(errors.New("test err"))
		})
		AssertSay(ServerErrorPattern)
	})

	Context("client error", func() {
		Input("get " + Separator)
		AssertSay(ClientErrorPattern)
	})

	Context("unknown command", func() {
		Input("incr key 1" + Separator)
		AssertSay(ErrorPattern)
	})

	Context("continue after client error", func() {
		BeforeEach(func() {
			storage.On("Delete", []byte("key")).Return(true).Once()
		})
		Input("delete" + Separator + "delete key" + Separator)
		It("responses", func() {
			Eventually(out, ReadTimeout).Should(Say(ClientErrorPattern))
			Eventually(out, ReadTimeout).Should(Say(DeletedPattern))
		})
	})

	Context("delete", func() {
		var (
			key     string
			noreply bool
			deleted bool
			done    chan struct{}
		)
		AfterEach(func() {
			noreply = false
			deleted = false
		})
		JustBeforeEach(func() {
			key = "test_key"
			done = make(chan struct{})
			storage.On("Delete", []byte(key)).Return(deleted).Run(func(mock.Arguments) { close(done) }).Once()
			cmd := "delete " + key
			if noreply {
				cmd += " " + NoReplyOption
			}
			io.WriteString(in, cmd+Separator)
		})

		Context("no reply", func() {
			BeforeEach(func() { noreply = true })
			It("say nothing", func() {
				Eventually(done).Should(BeClosed())
			})
		})
		Context("not found", func() {
			AssertSay(NotFoundPattern)
		})
		Context("deleted", func() {
			BeforeEach(func() { deleted = true })
			AssertSay(DeletedPattern)
		})
	})

	Context("store", func() {
		var (
			command string
			method  string
			key     string
			size    int
			data    []byte
			noreply bool
			stored  bool
			called  bool
			done    chan struct{}
		)
		BeforeEach(func() {
			command = SetCommand
			method = "Put"
			key = "test_key"
			size = Rand.Intn(connMeta.MaxItemSize)
			stored = true
			called = true
		})
		AfterEach(func() { noreply = false })

		JustBeforeEach(func() {
			data = RandBytes(size)
			done = make(chan struct{})
			if called {
				storage.On(method, []byte(key), mock.Anything).Return(func(_, actual []byte) bool {
					defer close(done)
					ExpectBytesEqual(actual, data)
					return stored
				}).Once()
			}
			cmd := fmt.Sprintf("%s %s %v %v %v", command, key, Rand.Uint32(), Rand.Int63(), size)
			if noreply {
				cmd += " " + NoReplyOption
			}
			io.WriteString(in, cmd+Separator+string(data)+Separator)
		})

		Context("no reply", func() {
			BeforeEach(func() { noreply = true })
			It("say nothing", func() {
				Eventually(done).Should(BeClosed())
			})
		})
		Context("stored", func() {
			AssertSay(StoredPattern)
		})
		Context("not stored", func() {
			BeforeEach(func() { stored = false })
			AssertSay(NotStoredPattern)
		})
		Context("add", func() {
			BeforeEach(func() {
				command = AddCommand
				method = "PutIfAbsent"
			})
			AssertSay(StoredPattern)
		})
		Context("replace", func() {
			BeforeEach(func() {
				command = ReplaceCommand
				method = "Set"
				stored = false
			})
			AssertSay(NotStoredPattern)
		})
		Context("empty value", func() {
			BeforeEach(func() { size = 0 })
			AssertSay(StoredPattern)
		})
		Context("too large item", func() {
			BeforeEach(func() {
				size = connMeta.MaxItemSize + 1
				called = false
			})
			AssertSay(ClientErrorPattern)
		})
	})

	Context("data block in separate write", func() {
		BeforeEach(func() {
			storage.On("Put", []byte("key"), []byte("add")).Return(true).Once()
		})
		It("stores by command read before data", func() {
			io.WriteString(in, SetCommand+" key 0 0 3"+Separator)
			io.WriteString(in, "add"+Separator)
			Eventually(out, ReadTimeout).Should(Say(StoredPattern))
		})
	})

	Context("store invalid line", func() {
		Input("set key x 0 1" + Separator + "a" + Separator)
		AssertSay(ClientErrorPattern)
	})

	Context("get", func() {
		var (
			keys  []string
			found map[string][]byte
		)
		BeforeEach(func() {
			keys = nil
			found = map[string][]byte{}
		})
		JustBeforeEach(func() {
			cmd := GetCommand
			for _, k := range keys {
				cmd += " " + k
				storage.On("Get", []byte(k)).Return(found[k], found[k] != nil).Once()
			}
			io.WriteString(in, cmd+Separator)
		})

		Context("none found", func() {
			BeforeEach(func() {
				keys = []string{"test_key_0", "test_key_1"}
			})
			AssertSay(EndPattern)
		})

		Context("found some", func() {
			BeforeEach(func() {
				for i := 0; i < 5; i++ {
					keys = append(keys, fmt.Sprintf("test_key_%v", i))
				}
				for _, i := range []int{0, 2, 4} {
					found[keys[i]] = RandBytes(Rand.Intn(2 * OutBufferSize))
				}
			})
			It("sends found values in keys order", func() {
				var expected string
				for _, i := range []int{0, 2, 4} {
					v := found[keys[i]]
					expected += fmt.Sprintf("%s %s 0 %v%s%s%s", ValueResponse, keys[i], len(v), Separator, v, Separator)
				}
				expected += EndResponse + Separator
				Eventually(out, ReadTimeout).Should(Say(regexp.QuoteMeta(expected)))
			})
		})
	})

	Context("get invalid key", func() {
		Input("gets ok k\x7fy" + Separator)
		AssertSay(ClientErrorPattern)
	})
})
