package integration

import (
	"fmt"
	"math"
	"math/rand"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/skipor/memkv/testutil"
)

func IsTemporary(err error) bool {
	if ne, ok := err.(net.Error); ok {
		return ne.Temporary()
	}
	return false
}

func IsTimeout(err error) bool {
	if _, ok := err.(*memcache.ConnectTimeoutError); ok {
		return true
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout()
	}
	return false
}

func LoadTest(addr string) {
	prevMaxProcs := runtime.GOMAXPROCS(runtime.NumCPU())
	defer runtime.GOMAXPROCS(prevMaxProcs)

	const (
		itemsNum     = 4 * (1 << 10)
		meanItemSize = 4 * (1 << 10)
		indexStddev  = itemsNum / 2 // Index normal distribution parameter.
		setP         = 0.1
		delP         = 0.01

		clientsNum    = 10
		totalRequests = 16 * itemsNum
	)

	ResetTestKeys()
	items := make([]*memcache.Item, itemsNum)
	{
		By("Warmup cache.")
		c := memcache.New(addr)
		for i := itemsNum - 1; i >= 0; i-- {
			it := NewItem(testutil.Rand.Intn(2 * meanItemSize))
			items[i] = it
			err := c.Set(it)
			for IsTemporary(err) {
				testutil.Byf("Warmup set item %v temporary err: %v", i, err)
				time.Sleep(100 * time.Millisecond)
				err = c.Set(it)
			}
			Expect(err).To(BeNil())
		}
		By("Warmup done.")
	}

	var requests int32
	next := func() bool { return atomic.AddInt32(&requests, 1) <= totalRequests }
	// itemIndex returns random normally distributed index.
	itemIndex := func(r *rand.Rand) int {
		for try := 0; try < 5; try++ {
			index := int(math.Abs(r.NormFloat64() * indexStddev))
			if index < itemsNum {
				return index
			}
		}
		return r.Intn(itemsNum)
	}

	registry := metrics.NewRegistry()
	getTimer := metrics.NewRegisteredTimer("get", registry)
	setTimer := metrics.NewRegisteredTimer("set", registry)
	delTimer := metrics.NewRegisteredTimer("del", registry)
	missCounter := metrics.NewRegisteredCounter("cache.miss", registry)
	timeoutCounter := metrics.NewRegisteredCounter("err.timeout", registry)
	temporaryCounter := metrics.NewRegisteredCounter("err.temporary", registry)

	var g errgroup.Group
	for i := 0; i < clientsNum; i++ {
		client := i
		r := rand.New(rand.NewSource(testutil.Rand.Int63()))
		c := memcache.New(addr)
		// Establish and check conn.
		_, err := c.Get("no_such_key")
		Expect(err).To(Equal(memcache.ErrCacheMiss))
		g.Go(func() error {
			defer testutil.Byf("Client %v done.", client)
			var err error
			var got *memcache.Item
			for next() {
				it := items[itemIndex(r)]
				p := r.Float64()
				switch {
				case p <= setP:
					setTimer.Time(func() { err = c.Set(it) })
				case p <= setP+delP:
					delTimer.Time(func() { err = c.Delete(it.Key) })
				default:
					getTimer.Time(func() { got, err = c.Get(it.Key) })
					if err == nil && string(got.Value) != string(it.Value) {
						return fmt.Errorf("client %v: item %s value mismatch", client, it.Key)
					}
				}
				switch {
				case err == nil:
				case err == memcache.ErrCacheMiss:
					missCounter.Inc(1)
				case IsTimeout(err):
					timeoutCounter.Inc(1)
				case IsTemporary(err):
					temporaryCounter.Inc(1)
				default:
					return fmt.Errorf("client %v: %v", client, err)
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(time.Second / 2)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				req := atomic.LoadInt32(&requests)
				fmt.Fprintf(GinkgoWriter, "%v%% requests done.\n", req*100/totalRequests)
			}
		}
	}()
	err := g.Wait()
	close(done)
	Expect(err).NotTo(HaveOccurred())

	By("Test stats. Time units is nanos.")
	metrics.WriteOnce(registry, GinkgoWriter)
	fmt.Fprintf(GinkgoWriter, "%.2f%% cache miss.\n",
		float64(missCounter.Count()*100)/float64(getTimer.Count()+delTimer.Count()))
	fmt.Fprintf(GinkgoWriter, "%.2f%% deletes.\n",
		float64(delTimer.Count()*100)/totalRequests)
	fmt.Fprintf(GinkgoWriter, "%.2f%% set.\n",
		float64(setTimer.Count()*100)/totalRequests)
}
