package scan

import (
	"context"
	"sync"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
)

// Snapshot is an immutable view of the scan state. Observers must not modify
// the maps or slices it holds.
type Snapshot struct {
	RunID     string
	Groups    map[classifier.Group][]asset.Item
	Others    []asset.Item
	Processed int
	Total     int
	Progress  float64
	Scanning  bool
}

// GroupSizes returns the number of items per group.
func (s Snapshot) GroupSizes() map[string]int {
	sizes := make(map[string]int, len(s.Groups))
	for g, items := range s.Groups {
		sizes[string(g)] = len(items)
	}
	return sizes
}

// Classified returns the number of items held in groups and others.
func (s Snapshot) Classified() int {
	n := len(s.Others)
	for _, items := range s.Groups {
		n += len(items)
	}
	return n
}

// Subscription delivers snapshots on C until it is unsubscribed. C holds at
// most one value; a newer snapshot replaces one that has not been read.
type Subscription struct {
	C <-chan Snapshot

	id      int
	ch      chan Snapshot
	changed func(prev, next Snapshot) bool
	last    Snapshot
}

// State holds the latest published snapshot and fans it out to subscribers.
type State struct {
	mu      sync.Mutex
	current Snapshot
	nextID  int
	subs    map[int]*Subscription
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		current: Snapshot{Groups: map[classifier.Group][]asset.Item{}},
		subs:    make(map[int]*Subscription),
	}
}

// Snapshot returns the most recently published snapshot.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns a subscription that receives every publication. The
// current snapshot is delivered immediately.
func (s *State) Subscribe() *Subscription {
	return s.subscribe(nil)
}

// WatchGroup returns a subscription that only fires when the ordered items
// of group g change.
func (s *State) WatchGroup(g classifier.Group) *Subscription {
	return s.subscribe(func(prev, next Snapshot) bool {
		return !asset.SameIDs(prev.Groups[g], next.Groups[g])
	})
}

// WatchOthers returns a subscription that only fires when the ordered items
// matching no group change.
func (s *State) WatchOthers() *Subscription {
	return s.subscribe(func(prev, next Snapshot) bool {
		return !asset.SameIDs(prev.Others, next.Others)
	})
}

func (s *State) subscribe(changed func(prev, next Snapshot) bool) *Subscription {
	ch := make(chan Snapshot, 1)
	sub := &Subscription{C: ch, ch: ch, changed: changed}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub.id = s.nextID
	s.nextID++
	s.subs[sub.id] = sub

	sub.last = s.current
	sub.ch <- s.current
	return sub
}

// Unsubscribe stops deliveries to sub and closes its channel. It is safe to
// call more than once.
func (s *State) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.id]; !ok {
		return
	}
	delete(s.subs, sub.id)
	close(sub.ch)
}

// Subscribers returns the number of active subscriptions.
func (s *State) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// publish replaces the current snapshot and notifies subscribers. It never
// blocks on a slow reader.
func (s *State) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = snap
	for _, sub := range s.subs {
		if sub.changed != nil && !sub.changed(sub.last, snap) {
			continue
		}
		sub.last = snap
		offer(sub.ch, snap)
	}
}

// offer sends v on a one-slot channel, dropping any unread value first. All
// sends happen under State.mu, so the slot is free after the drain.
func offer(ch chan Snapshot, v Snapshot) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// GroupFeed returns a channel of the items of group g, updated whenever they
// change, until ctx is done.
func (s *State) GroupFeed(ctx context.Context, g classifier.Group) <-chan []asset.Item {
	return s.feed(ctx, s.WatchGroup(g), func(snap Snapshot) []asset.Item {
		return snap.Groups[g]
	})
}

// OthersFeed is GroupFeed for the items that matched no group.
func (s *State) OthersFeed(ctx context.Context) <-chan []asset.Item {
	return s.feed(ctx, s.WatchOthers(), func(snap Snapshot) []asset.Item {
		return snap.Others
	})
}

func (s *State) feed(ctx context.Context, sub *Subscription, pick func(Snapshot) []asset.Item) <-chan []asset.Item {
	out := make(chan []asset.Item, 1)
	go func() {
		defer close(out)
		defer s.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C:
				if !ok {
					return
				}
				select {
				case out <- pick(snap):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
