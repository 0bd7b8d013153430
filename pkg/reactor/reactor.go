// Package reactor provides the event loop for the host: monotonic time,
// self-rescheduling timers and one-shot completions. Times are float64
// seconds on the reactor's monotonic clock; a timer callback returns the
// next wake time, or NEVER to stop.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

var ErrReactorClosed = errors.New("reactor: reactor closed")

// TimerCallback is invoked when a timer fires. It receives the event time
// and returns the next wake time (NEVER to unregister).
type TimerCallback func(eventtime float64) float64

// Timer is a registered timer.
type Timer struct {
	id        uint64
	callback  TimerCallback
	waketime  float64
	isRunning bool
	mu        sync.Mutex
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion is a one-shot future. Complete stores a result exactly once;
// completing an already-completed instance is a no-op, which lets a late
// reply race a timeout without either side checking first.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test reports whether the completion already holds a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete stores the result and wakes all waiters. Safe to call from any
// goroutine; second and later calls are ignored.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// WaitUntil blocks until the completion is done or waketime is reached on
// the reactor clock, returning the stored result or waketimeResult.
func (c *Completion) WaitUntil(waketime float64, waketimeResult interface{}) interface{} {
	if waketime >= NEVER {
		select {
		case <-c.done:
			return c.result
		case <-c.reactor.ctx.Done():
			return waketimeResult
		}
	}

	now := c.reactor.Monotonic()
	if waketime <= now {
		select {
		case <-c.done:
			return c.result
		default:
			return waketimeResult
		}
	}

	select {
	case <-c.done:
		return c.result
	case <-time.After(durationUntil(now, waketime)):
		return waketimeResult
	case <-c.reactor.ctx.Done():
		return waketimeResult
	}
}

func durationUntil(now, waketime float64) time.Duration {
	return time.Duration((waketime - now) * float64(time.Second))
}

// Reactor manages timers and dispatches their callbacks.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID uint64
	nextWake    float64

	// Wake signal for the dispatch loop when a timer moves earlier.
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a new Reactor.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		nextWake:  NEVER,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Monotonic returns the current monotonic time in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// Completion creates a new unresolved Completion.
func (r *Reactor) Completion() *Completion {
	return &Completion{
		reactor: r,
		done:    make(chan struct{}),
	}
}

// RegisterTimer registers a timer that fires at waketime.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{
		id:       atomic.AddUint64(&r.nextTimerID, 1),
		callback: callback,
		waketime: waketime,
	}

	r.mu.Lock()
	r.timers = append(r.timers, timer)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()

	r.signalWake()
	return timer
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	r.mu.Lock()
	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// UpdateTimer moves a timer's wake time. Updating a timer whose callback is
// currently running is ignored; the callback's return value wins.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	timer.mu.Lock()
	if timer.isRunning {
		timer.mu.Unlock()
		return
	}
	timer.waketime = waketime
	timer.mu.Unlock()

	r.mu.Lock()
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()

	r.signalWake()
}

// Pause sleeps the calling goroutine until waketime on the reactor clock.
func (r *Reactor) Pause(waketime float64) float64 {
	now := r.Monotonic()
	if waketime <= now {
		return now
	}

	if waketime >= NEVER {
		<-r.ctx.Done()
		return r.Monotonic()
	}

	select {
	case <-time.After(durationUntil(now, waketime)):
	case <-r.ctx.Done():
	}
	return r.Monotonic()
}

// Run starts the dispatch loop in a background goroutine.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}

	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		eventtime := r.Monotonic()
		delay := r.checkTimers(eventtime)

		if delay <= 0 {
			continue
		}
		if delay > 1.0 {
			delay = 1.0
		}
		select {
		case <-time.After(time.Duration(delay * float64(time.Second))):
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}

// checkTimers fires all due timers and returns the delay until the next one.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	if eventtime < r.nextWake {
		delay := r.nextWake - eventtime
		r.mu.Unlock()
		return delay
	}

	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.nextWake = NEVER
	r.mu.Unlock()

	for _, timer := range timers {
		timer.mu.Lock()
		waketime := timer.waketime
		if eventtime >= waketime {
			timer.waketime = NEVER
			timer.isRunning = true
			timer.mu.Unlock()

			newWaketime := timer.callback(eventtime)

			timer.mu.Lock()
			timer.isRunning = false
			if newWaketime < timer.waketime {
				timer.waketime = newWaketime
			}
		}
		waketime = timer.waketime
		timer.mu.Unlock()

		r.mu.Lock()
		if waketime < r.nextWake {
			r.nextWake = waketime
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	delay := r.nextWake - eventtime
	r.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	return delay
}
