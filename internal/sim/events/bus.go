// Package events is the change-notification fan-out for the economy core.
// Subscriptions are scoped: closing a Scope is guaranteed to detach every
// handler it registered, so repeated component setup/teardown cannot leak
// subscribers.
package events

type Kind string

const (
	KindBuildingPurchased Kind = "building_purchased"
	KindBuildingUnlocked  Kind = "building_unlocked"
	KindBuildingMaxed     Kind = "building_maxed"
	KindResourceChanged   Kind = "resource_changed"
	KindStackChanged      Kind = "multiplier_stack_changed"
	KindOfflineGrant      Kind = "offline_grant"
)

// AllKinds returns every event kind, for subscribers that mirror the full
// stream (observer transports, logs).
func AllKinds() []Kind {
	return []Kind{
		KindBuildingPurchased,
		KindBuildingUnlocked,
		KindBuildingMaxed,
		KindResourceChanged,
		KindStackChanged,
		KindOfflineGrant,
	}
}

type Event struct {
	Kind Kind

	BuildingID string
	ResourceID string
	StackID    string

	Count     int     // purchased count
	Delta     float64 // resource delta
	Amount    float64 // resource amount after change
	SourceTag string
}

type Handler func(Event)

// Bus dispatches synchronously on the caller's goroutine, matching the
// engine's single-owner concurrency model. Construct one per engine and pass
// it down; there is no package-level instance.
type Bus struct {
	nextID int
	subs   map[Kind]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Kind]map[int]Handler)}
}

type Subscription struct {
	bus   *Bus
	kinds []Kind
	id    int
}

func (b *Bus) Subscribe(kinds []Kind, fn Handler) *Subscription {
	b.nextID++
	id := b.nextID
	for _, k := range kinds {
		m := b.subs[k]
		if m == nil {
			m = make(map[int]Handler)
			b.subs[k] = m
		}
		m[id] = fn
	}
	return &Subscription{bus: b, kinds: kinds, id: id}
}

func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	for _, k := range s.kinds {
		delete(s.bus.subs[k], s.id)
	}
	s.bus = nil
}

func (b *Bus) Publish(ev Event) {
	for _, fn := range b.subs[ev.Kind] {
		fn(ev)
	}
}

// Scope bundles subscriptions whose lifetime is tied to one owning component.
type Scope struct {
	bus  *Bus
	subs []*Subscription
}

func (b *Bus) NewScope() *Scope { return &Scope{bus: b} }

func (s *Scope) Subscribe(kinds []Kind, fn Handler) *Subscription {
	sub := s.bus.Subscribe(kinds, fn)
	s.subs = append(s.subs, sub)
	return sub
}

// Close detaches every subscription made through the scope. Safe to call
// more than once.
func (s *Scope) Close() {
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}
