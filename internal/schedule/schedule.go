// Package schedule owns the named recurrence rules and turns them into
// timed firings for the dispatch engine.
//
// Rules use the classic 5-field cron format (minute hour dom month dow) plus
// descriptors like @hourly, parsed by robfig/cron. The pending set is a
// min-heap keyed by next occurrence; ties keep insertion order.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "eventmanager/pkg/logx"
)

// idleBackoff is how long the generator sleeps when no rule is pending.
// This keeps it alive across a reload that temporarily empties the rule set.
const idleBackoff = 60 * time.Second

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether spec is a parseable recurrence rule.
// Config validation uses this so a bad rule fails the load, not the engine.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

type entry struct {
	at    time.Time
	seq   uint64
	sched cron.Schedule
	event string
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Cron merges all recurrence rules into a single time-ordered pending set.
type Cron struct {
	mu      sync.Mutex
	pending entryHeap
	seq     uint64

	// wake is poked whenever AddRule may have produced an earlier deadline.
	wake chan struct{}

	log logx.Logger
	now func() time.Time
}

func New(log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cron{
		wake: make(chan struct{}, 1),
		log:  log,
		now:  time.Now,
	}
}

// AddRule parses spec and inserts its first future occurrence under event.
func (c *Cron) AddRule(spec, event string) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.seq++
	e := &entry{
		at:    sched.Next(c.now()),
		seq:   c.seq,
		sched: sched,
		event: event,
	}
	heap.Push(&c.pending, e)
	c.mu.Unlock()

	c.log.Debug("cron rule added",
		logx.String("event", event),
		logx.String("spec", spec),
		logx.Time("next", e.at),
	)
	c.poke()
	return nil
}

// Clear empties the pending set. Used during hot reload; a Run loop in
// progress falls back to the idle backoff until new rules arrive.
func (c *Cron) Clear() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	c.poke()
}

// Len reports the number of pending rules.
func (c *Cron) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Cron) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Firing is one scheduled occurrence of a rule.
type Firing struct {
	At    time.Time
	Event string
}

// Run suspends until each earliest pending timestamp, then calls fire for
// every rule scheduled at that instant (all of them, before resuspending)
// and reinserts each rule at its next occurrence. It returns when ctx is
// cancelled. All firings are delivered from this goroutine.
func (c *Cron) Run(ctx context.Context, fire func(Firing)) {
	for {
		at, ok := c.nextDeadline()
		if !ok {
			if !c.sleep(ctx, idleBackoff) {
				return
			}
			continue
		}

		if wait := at.Sub(c.now()); wait > 0 {
			if !c.sleep(ctx, wait) {
				return
			}
			// An AddRule or Clear may have changed the earliest deadline
			// while we slept; re-evaluate rather than firing blindly.
			continue
		}

		for _, f := range c.popDue(at) {
			fire(f)
		}
	}
}

// nextDeadline returns the earliest pending timestamp without popping it.
func (c *Cron) nextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return time.Time{}, false
	}
	return c.pending[0].at, true
}

// popDue removes every entry scheduled at exactly `at`, reinserts each at
// its next occurrence, and returns the firings in insertion order.
func (c *Cron) popDue(at time.Time) []Firing {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []Firing
	for len(c.pending) > 0 && c.pending[0].at.Equal(at) {
		e := heap.Pop(&c.pending).(*entry)
		due = append(due, Firing{At: e.at, Event: e.event})

		e.at = e.sched.Next(c.now())
		c.seq++
		e.seq = c.seq
		heap.Push(&c.pending, e)
	}
	return due
}

// sleep waits for d, an earlier wake-up, or cancellation.
// It reports false only when ctx is done.
func (c *Cron) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.wake:
		return true
	case <-t.C:
		return true
	}
}
