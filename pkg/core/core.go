// Package core implements spec.md §4.I: the routing/mixing core. Core
// owns every sink, source, sink-input, source-output, client, card
// and module by strong reference, indexed by u32; every other object
// back-references Core weakly (its lifetime is bounded by Core's).
package core

import (
	"sync"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/container"
)

// Core is the main-thread object graph. Its IdxSets are not
// themselves thread-safe (per spec.md §5's shared-resource policy);
// the mutex below serialises access from whichever goroutines call
// into Core's registration methods (the mainloop goroutine and any
// protocol-handling goroutines), matching "a single thread (the main
// thread for core.sinks)" — in this Go rendition "the main thread" is
// "anything holding Core.mu".
type Core struct {
	mu sync.Mutex

	Log commons.Logger

	sinks         *container.IdxSet[*Sink]
	sources       *container.IdxSet[*Source]
	sinkInputs    *container.IdxSet[*SinkInput]
	sourceOutputs *container.IdxSet[*SourceOutput]
	clients       *container.IdxSet[*Client]
	cards         *container.IdxSet[*Card]
	modules       *container.IdxSet[*Module]

	DefaultSinkName   string
	DefaultSourceName string

	subscribers []Subscriber
}

// Subscriber receives core object-graph events, the hook the admin
// surface (pkg/adminapi) subscribes through.
type Subscriber func(ev Event)

// EventKind enumerates the object-graph change categories a
// subscriber can observe.
type EventKind int

const (
	EventNew EventKind = iota
	EventChange
	EventRemove
)

// EventFacility names which object index an Event refers to.
type EventFacility int

const (
	FacilitySink EventFacility = iota
	FacilitySource
	FacilitySinkInput
	FacilitySourceOutput
	FacilityClient
	FacilityCard
	FacilityModule
)

// Event is posted to every Subscriber on any object-graph change.
type Event struct {
	Kind      EventKind
	Facility  EventFacility
	Index     uint32
}

// New creates an empty Core.
func New(log commons.Logger) *Core {
	return &Core{
		Log:           log,
		sinks:         container.NewIdxSet[*Sink](),
		sources:       container.NewIdxSet[*Source](),
		sinkInputs:    container.NewIdxSet[*SinkInput](),
		sourceOutputs: container.NewIdxSet[*SourceOutput](),
		clients:       container.NewIdxSet[*Client](),
		cards:         container.NewIdxSet[*Card](),
		modules:       container.NewIdxSet[*Module](),
	}
}

// Subscribe registers a callback for every future object-graph event.
func (c *Core) Subscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

func (c *Core) notify(kind EventKind, facility EventFacility, idx uint32) {
	for _, sub := range c.subscribers {
		sub(Event{Kind: kind, Facility: facility, Index: idx})
	}
}

// --- sinks ---

func (c *Core) RegisterSink(s *Sink) uint32 {
	c.mu.Lock()
	idx := c.sinks.Add(s)
	c.mu.Unlock()
	s.Index = idx
	s.core = c
	c.notify(EventNew, FacilitySink, idx)
	return idx
}

func (c *Core) Sink(idx uint32) (*Sink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinks.Get(idx)
}

func (c *Core) SinkByName(name string) (*Sink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found *Sink
	c.sinks.Each(func(_ uint32, s *Sink) {
		if s.Name == name {
			found = s
		}
	})
	return found, found != nil
}

func (c *Core) EachSink(fn func(*Sink)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks.Each(func(_ uint32, s *Sink) { fn(s) })
}

func (c *Core) unregisterSink(idx uint32) {
	c.mu.Lock()
	c.sinks.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilitySink, idx)
}

// --- sources ---

func (c *Core) RegisterSource(s *Source) uint32 {
	c.mu.Lock()
	idx := c.sources.Add(s)
	c.mu.Unlock()
	s.Index = idx
	s.core = c
	c.notify(EventNew, FacilitySource, idx)
	return idx
}

func (c *Core) Source(idx uint32) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources.Get(idx)
}

func (c *Core) SourceByName(name string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found *Source
	c.sources.Each(func(_ uint32, s *Source) {
		if s.Name == name {
			found = s
		}
	})
	return found, found != nil
}

func (c *Core) EachSource(fn func(*Source)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources.Each(func(_ uint32, s *Source) { fn(s) })
}

func (c *Core) unregisterSource(idx uint32) {
	c.mu.Lock()
	c.sources.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilitySource, idx)
}

// --- sink inputs ---

func (c *Core) RegisterSinkInput(i *SinkInput) uint32 {
	c.mu.Lock()
	idx := c.sinkInputs.Add(i)
	c.mu.Unlock()
	i.Index = idx
	i.core = c
	c.notify(EventNew, FacilitySinkInput, idx)
	return idx
}

func (c *Core) SinkInput(idx uint32) (*SinkInput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinkInputs.Get(idx)
}

func (c *Core) EachSinkInput(fn func(*SinkInput)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinkInputs.Each(func(_ uint32, i *SinkInput) { fn(i) })
}

func (c *Core) unregisterSinkInput(idx uint32) {
	c.mu.Lock()
	c.sinkInputs.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilitySinkInput, idx)
}

// --- source outputs ---

func (c *Core) RegisterSourceOutput(o *SourceOutput) uint32 {
	c.mu.Lock()
	idx := c.sourceOutputs.Add(o)
	c.mu.Unlock()
	o.Index = idx
	o.core = c
	c.notify(EventNew, FacilitySourceOutput, idx)
	return idx
}

func (c *Core) SourceOutput(idx uint32) (*SourceOutput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceOutputs.Get(idx)
}

func (c *Core) EachSourceOutput(fn func(*SourceOutput)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceOutputs.Each(func(_ uint32, o *SourceOutput) { fn(o) })
}

func (c *Core) unregisterSourceOutput(idx uint32) {
	c.mu.Lock()
	c.sourceOutputs.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilitySourceOutput, idx)
}

// --- clients, cards, modules: lighter-weight registries ---

func (c *Core) RegisterClient(cl *Client) uint32 {
	c.mu.Lock()
	idx := c.clients.Add(cl)
	c.mu.Unlock()
	cl.Index = idx
	c.notify(EventNew, FacilityClient, idx)
	return idx
}

func (c *Core) Client(idx uint32) (*Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients.Get(idx)
}

func (c *Core) UnregisterClient(idx uint32) {
	c.mu.Lock()
	c.clients.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilityClient, idx)
}

func (c *Core) RegisterCard(card *Card) uint32 {
	c.mu.Lock()
	idx := c.cards.Add(card)
	c.mu.Unlock()
	card.Index = idx
	c.notify(EventNew, FacilityCard, idx)
	return idx
}

func (c *Core) Card(idx uint32) (*Card, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cards.Get(idx)
}

func (c *Core) UnregisterCard(idx uint32) {
	c.mu.Lock()
	c.cards.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilityCard, idx)
}

func (c *Core) RegisterModule(m *Module) uint32 {
	c.mu.Lock()
	idx := c.modules.Add(m)
	c.mu.Unlock()
	m.Index = idx
	c.notify(EventNew, FacilityModule, idx)
	return idx
}

func (c *Core) Module(idx uint32) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modules.Get(idx)
}

func (c *Core) UnregisterModule(idx uint32) {
	c.mu.Lock()
	c.modules.Remove(idx)
	c.mu.Unlock()
	c.notify(EventRemove, FacilityModule, idx)
}
