// Package executor implements elastic pool of worker goroutines.
// Pool keeps from low to high watermark workers, queues tasks when all of
// them are busy, and rejects tasks when queue is full.
package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/skipor/memkv/log"
)

// Task is unit of work. Result, if required, should be passed by task itself.
type Task func()

type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var ErrStarted = errors.New("executor already started")

type Config struct {
	// LowWatermark is number of workers kept alive while idle.
	LowWatermark int
	// HighWatermark is max number of workers.
	HighWatermark int
	// MaxQueueSize is max number of tasks waiting for busy workers.
	MaxQueueSize int
	// IdleTime is time after which idle worker above low watermark retires.
	IdleTime time.Duration
}

func (c Config) Validate() error {
	switch {
	case c.LowWatermark < 0:
		return stackerr.Newf("negative low watermark %v", c.LowWatermark)
	case c.HighWatermark < 1 || c.HighWatermark < c.LowWatermark:
		return stackerr.Newf("high watermark %v should be positive and not less than low watermark %v",
			c.HighWatermark, c.LowWatermark)
	case c.MaxQueueSize < 0:
		return stackerr.Newf("negative max queue size %v", c.MaxQueueSize)
	case c.IdleTime <= 0:
		return stackerr.Newf("non positive idle time %v", c.IdleTime)
	}
	return nil
}

type Option func(e *Executor)

// WithRegistry sets registry for executor metrics. Default is metrics.DefaultRegistry.
func WithRegistry(r metrics.Registry) Option {
	return func(e *Executor) { e.registry = r }
}

type Executor struct {
	conf     Config
	log      log.Logger
	registry metrics.Registry

	mu    sync.Mutex
	work  sync.Cond // Task queued or state changed.
	stop  sync.Cond // Stopped.
	state State
	queue queue
	// threads is number of alive workers.
	threads int
	// working is number of workers running task.
	working int
	// claims is number of queued tasks reserved for idle or just spawned workers.
	// Only queue.len - claims tasks are limited by MaxQueueSize.
	claims   int
	workerID int
	wg       sync.WaitGroup

	submitted metrics.Counter
	rejected  metrics.Counter
	spawned   metrics.Counter
	retired   metrics.Counter
	failed    metrics.Counter
	taskTimer metrics.Timer
}

func New(l log.Logger, conf Config, opts ...Option) (*Executor, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		conf:     conf,
		log:      l,
		registry: metrics.DefaultRegistry,
	}
	for _, o := range opts {
		o(e)
	}
	e.work.L = &e.mu
	e.stop.L = &e.mu
	r := e.registry
	e.submitted = metrics.GetOrRegisterCounter("executor.submitted", r)
	e.rejected = metrics.GetOrRegisterCounter("executor.rejected", r)
	e.spawned = metrics.GetOrRegisterCounter("executor.spawned", r)
	e.retired = metrics.GetOrRegisterCounter("executor.retired", r)
	e.failed = metrics.GetOrRegisterCounter("executor.failed", r)
	e.taskTimer = metrics.GetOrRegisterTimer("executor.task", r)
	return e, nil
}

// Start spawns low watermark workers. Executor can be started only once.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Created {
		return stackerr.Wrap(ErrStarted)
	}
	e.log.Debugf("Start executor: %+v.", e.conf)
	e.state = Running
	for i := 0; i < e.conf.LowWatermark; i++ {
		e.threads++
		e.spawn()
	}
	return nil
}

// Submit schedules task execution. It never blocks on task execution.
// Returns false, if executor is not running or there is no free worker and queue is full.
func (e *Executor) Submit(t Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		e.rejected.Inc(1)
		return false
	}
	switch {
	case e.threads-e.working-e.claims > 0:
		e.claims++
		e.queue.push(t)
		e.work.Signal()
	case e.threads < e.conf.HighWatermark:
		e.threads++
		e.claims++
		e.queue.push(t)
		e.spawn()
	case e.backlog() < e.conf.MaxQueueSize:
		e.queue.push(t)
	default:
		e.rejected.Inc(1)
		return false
	}
	e.submitted.Inc(1)
	return true
}

// Stop makes executor reject new tasks and stop workers after all queued tasks are done.
// If await is true, Stop returns only after all workers exited.
// Stop of not started executor just makes it stopped.
// Stop(true) must not be called from a task: it waits for the calling worker
// and never returns. Tasks may call Stop(false).
func (e *Executor) Stop(await bool) {
	e.mu.Lock()
	switch e.state {
	case Created:
		e.setStopped()
	case Running:
		e.log.Debugf("Stop executor. Threads: %v, working: %v, queued: %v.", e.threads, e.working, e.queue.len)
		e.state = Stopping
		e.work.Broadcast()
		if e.threads == 0 {
			e.setStopped()
		}
	}
	if !await {
		e.mu.Unlock()
		return
	}
	for e.state != Stopped {
		e.stop.Wait()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Threads returns number of alive workers.
func (e *Executor) Threads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threads
}

// Working returns number of workers running task.
func (e *Executor) Working() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.working
}

// Queued returns number of tasks that are not started yet.
func (e *Executor) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len
}

func (e *Executor) backlog() int { return e.queue.len - e.claims }

// setStopped should be called with lock held.
func (e *Executor) setStopped() {
	e.log.Debug("Executor stopped.")
	e.state = Stopped
	e.stop.Broadcast()
}
