package memkv

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/skipor/memkv/cache"
	"github.com/skipor/memkv/executor"
	"github.com/skipor/memkv/log"
	"github.com/skipor/memkv/recycle"
)

var ErrServerClosed = errors.New("memkv: server closed")

const rejectTimeout = time.Second

// Server serves every accepted connection as executor task.
// Connections which executor can't accept are rejected.
// A connection holds its worker until client disconnects, so idle clients can
// occupy all HighWatermark workers. Then up to MaxQueueSize accepted connections
// wait without any response until some worker is free.
type Server struct {
	ConnMeta
	conf     Config
	log      log.Logger
	executor *executor.Executor
	registry metrics.Registry
	accepted metrics.Counter
	rejected metrics.Counter

	mu          sync.Mutex
	listener    net.Listener
	conns       map[*conn]net.Conn
	closed      bool
	connCounter int64
}

// NewServer creates server with locked LRU storage. Nil r means metrics.DefaultRegistry.
func NewServer(l log.Logger, conf Config, r metrics.Registry) (*Server, error) {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	if conf.Cache.Size <= 0 {
		return nil, stackerr.Newf("non positive cache size %v", conf.Cache.Size)
	}
	if conf.MaxItemSize < 0 || conf.MaxItemSize > MaxItemSize {
		return nil, stackerr.Newf("max item size %v is out of range [0, %v]", conf.MaxItemSize, MaxItemSize)
	}
	ex, err := executor.New(l.WithFields(log.Fields{"component": "executor"}), conf.Executor, executor.WithRegistry(r))
	if err != nil {
		return nil, err
	}
	lru := cache.NewLRU(l.WithFields(log.Fields{"component": "cache"}), conf.Cache)
	s := &Server{
		ConnMeta: ConnMeta{
			Storage:     cache.NewLocked(lru, r),
			Pool:        recycle.NewPool(),
			MaxItemSize: conf.MaxItemSize,
		},
		conf:     conf,
		log:      l,
		executor: ex,
		registry: r,
		accepted: metrics.GetOrRegisterCounter("server.conn.accepted", r),
		rejected: metrics.GetOrRegisterCounter("server.conn.rejected", r),
		conns:    map[*conn]net.Conn{},
	}
	s.ConnMeta.init()
	return s, nil
}

func (s *Server) ListenAndServe() error {
	addr := s.conf.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return stackerr.Wrap(err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown. Serve can be called only once.
// Returns ErrServerClosed after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	if err := s.executor.Start(); err != nil {
		l.Close()
		if s.isClosed() {
			return ErrServerClosed
		}
		return err
	}
	s.log.Infof("Serving on %s.", l.Addr())

	var tempDelay time.Duration // How long to sleep on accept failure.
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); !(ok && ne.Temporary()) {
				return stackerr.Wrap(err)
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.log.Errorf("Accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		s.handle(c)
	}
}

// Addr returns listener address, or nil if server is not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes listener and stops reading new commands from connections.
// Commands in progress are finished. If await is true, Shutdown returns
// after all connections are closed.
func (s *Server) Shutdown(await bool) {
	s.mu.Lock()
	if !s.closed {
		s.log.Infof("Shutdown. Connections: %v.", len(s.conns))
		s.closed = true
		if s.listener != nil {
			s.listener.Close()
		}
		for _, nc := range s.conns {
			closeRead(nc)
		}
	}
	s.mu.Unlock()
	s.executor.Stop(await)
	if await {
		buf := &bytes.Buffer{}
		metrics.WriteOnce(s.registry, buf)
		s.log.Debugf("Metrics:\n%s", buf)
	}
}

func (s *Server) handle(nc net.Conn) {
	c := s.newConn(nc)
	if !s.track(c, nc) {
		nc.Close()
		return
	}
	ok := s.executor.Submit(func() {
		defer s.untrack(c)
		c.serve()
	})
	if ok {
		s.accepted.Inc(1)
		return
	}
	s.untrack(c)
	s.rejected.Inc(1)
	s.log.Warnf("Connection from %s rejected: too many connections.", nc.RemoteAddr())
	nc.SetWriteDeadline(time.Now().Add(rejectTimeout))
	io.WriteString(nc, ServerErrorResponse+" too many connections"+Separator)
	nc.Close()
}

func (s *Server) newConn(nc net.Conn) *conn {
	s.connCounter++
	return newConn(s.log.WithFields(log.Fields{"conn": s.connCounter}), &s.ConnMeta, nc)
}

func (s *Server) track(c *conn, nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = nc
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// closeRead makes blocked and future reads return EOF, but allows to send response.
func closeRead(nc net.Conn) {
	if cr, ok := nc.(interface{ CloseRead() error }); ok {
		cr.CloseRead()
		return
	}
	nc.Close()
}
