package executor

import (
	"time"

	"github.com/facebookgo/stackerr"

	"github.com/skipor/memkv/log"
)

// spawn starts worker goroutine. Should be called with lock held, after threads increment.
func (e *Executor) spawn() {
	e.workerID++
	w := &worker{
		Executor: e,
		log:      e.log.WithFields(log.Fields{"worker": e.workerID}),
	}
	e.spawned.Inc(1)
	e.wg.Add(1)
	go w.loop()
}

type worker struct {
	*Executor
	log log.Logger
}

func (w *worker) loop() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log.Debug("Worker started.")
	for {
		t, ok := w.next()
		if !ok {
			return
		}
		w.working++
		w.mu.Unlock()
		w.run(t)
		w.mu.Lock()
		w.working--
	}
}

// next waits for task. Returns false, when worker should exit.
// Should be called with lock held.
func (w *worker) next() (t Task, ok bool) {
	for {
		if !w.queue.empty() {
			if w.claims > 0 {
				w.claims--
			}
			return w.queue.pop(), true
		}
		if w.state != Running {
			w.log.Debug("Worker exit.")
			w.exit()
			return nil, false
		}
		if !w.waitIdle() && w.queue.empty() && w.state == Running && w.threads > w.conf.LowWatermark {
			w.log.Debug("Worker retired.")
			w.retired.Inc(1)
			w.threads--
			return nil, false
		}
	}
}

// waitIdle waits for work condition. Returns false, if idle time passed.
func (w *worker) waitIdle() (woken bool) {
	deadline := time.Now().Add(w.conf.IdleTime)
	timer := time.AfterFunc(w.conf.IdleTime, w.wakeAll)
	defer timer.Stop()
	for w.queue.empty() && w.state == Running {
		if !time.Now().Before(deadline) {
			return false
		}
		w.work.Wait()
	}
	return true
}

func (w *worker) wakeAll() {
	w.mu.Lock()
	w.work.Broadcast()
	w.mu.Unlock()
}

// exit should be called with lock held.
func (w *worker) exit() {
	w.threads--
	if w.threads == 0 && w.state == Stopping {
		w.setStopped()
	}
}

func (w *worker) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Inc(1)
			w.log.Errorf("Task panic: %s", stackerr.Newf("%v", r))
		}
	}()
	w.taskTimer.Time(t)
}
