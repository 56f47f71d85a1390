package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// Handler receives one event. Returning an error unsubscribes it. Handlers
// run while their job's bucket is locked and must not call back into the bus.
type Handler func(Event) error

// Bus is an in-process registry of subscribers keyed by job id. Delivery is
// synchronous and serialized per job; different jobs never contend.
type Bus struct {
	log infralogger.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	mu   sync.Mutex
	subs []*Subscription
	// dead is set once the bucket has been removed from the map; subscribers
	// that raced the removal must retry against a fresh bucket.
	dead bool
}

// Subscription is a live registration. Unsubscribe is idempotent.
type Subscription struct {
	bus     *Bus
	jobID   string
	handler Handler
	once    sync.Once
}

func NewBus(log infralogger.Logger) *Bus {
	return &Bus{log: log, buckets: make(map[string]*bucket)}
}

// Subscribe registers handler for future events on jobID.
func (b *Bus) Subscribe(jobID string, handler Handler) *Subscription {
	sub := &Subscription{bus: b, jobID: jobID, handler: handler}
	for {
		bk := b.bucket(jobID, true)
		bk.mu.Lock()
		if bk.dead {
			bk.mu.Unlock()
			continue
		}
		bk.subs = append(bk.subs, sub)
		bk.mu.Unlock()
		return sub
	}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Publish delivers ev to every current subscriber of jobID in registration
// order and returns how many accepted it. Failing handlers are dropped.
func (b *Bus) Publish(jobID string, ev Event) int {
	bk := b.bucket(jobID, false)
	if bk == nil {
		return 0
	}

	bk.mu.Lock()
	delivered := 0
	kept := bk.subs[:0]
	for _, sub := range bk.subs {
		if err := deliver(sub, ev); err != nil {
			b.log.Debug("Dropping job subscriber",
				infralogger.String("job_id", jobID),
				infralogger.String("event_type", string(ev.Type)),
				infralogger.Error(err))
			continue
		}
		delivered++
		kept = append(kept, sub)
	}
	clear(bk.subs[len(kept):])
	bk.subs = kept
	empty := len(bk.subs) == 0
	bk.mu.Unlock()

	if empty {
		b.reclaim(jobID, bk)
	}
	return delivered
}

// Notify implements Notifier for in-process delivery.
func (b *Bus) Notify(_ context.Context, ev Event) error {
	b.Publish(ev.JobID, ev)
	return nil
}

// SubscriberCount reports live subscribers for jobID.
func (b *Bus) SubscriberCount(jobID string) int {
	bk := b.bucket(jobID, false)
	if bk == nil {
		return 0
	}
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return len(bk.subs)
}

// Len reports how many jobs have a subscriber bucket.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

func deliver(sub *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.handler(ev)
}

func (b *Bus) bucket(jobID string, create bool) *bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[jobID]
	if !ok && create {
		bk = &bucket{}
		b.buckets[jobID] = bk
	}
	return bk
}

func (b *Bus) remove(sub *Subscription) {
	bk := b.bucket(sub.jobID, false)
	if bk == nil {
		return
	}

	bk.mu.Lock()
	if i := slices.Index(bk.subs, sub); i >= 0 {
		bk.subs = slices.Delete(bk.subs, i, i+1)
	}
	empty := len(bk.subs) == 0
	bk.mu.Unlock()

	if empty {
		b.reclaim(sub.jobID, bk)
	}
}

// reclaim drops bk if it is still the registered bucket and still empty.
func (b *Bus) reclaim(jobID string, bk *bucket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buckets[jobID] != bk {
		return
	}
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if len(bk.subs) == 0 {
		bk.dead = true
		delete(b.buckets, jobID)
	}
}
