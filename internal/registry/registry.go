// Package registry implements the pub/sub subscription bookkeeping that
// drives fan-out: which connections are subscribed to which hubs and
// channels, and how to reach each connection's outbound writer. It is the
// Go analogue of server.rs's SubscribedHubMap / SubscribedChannelMap /
// ConnectedMap type aliases, generalized from bare HashMaps into a type with
// its own invariants and cleanup.
package registry

import (
	"sync"

	"github.com/nexushub/server/internal/id"
)

// WriterHandle is anything that can accept an outbound payload for a single
// connection, the same minimal surface the teacher's gateway.Client exposes
// to its enqueue path (full channel / closed connection are the writer's
// own concern, not the registry's).
type WriterHandle interface {
	Enqueue(payload []byte) error
}

type subscriptions struct {
	hubs     map[id.ID]struct{}
	channels map[id.ID]struct{}
}

// Registry tracks, for every live connection, which hubs and channels it is
// subscribed to, and the reverse indexes needed to fan a publish out to
// every subscriber without scanning every connection.
//
// All three maps (connToSubs, hubToConns, channelToConns) plus the writer
// table are guarded by a single mutex rather than one lock per map. A single
// lock trivially avoids the lock-ordering deadlocks a four-lock scheme would
// risk, at the cost of serializing subscribe/unsubscribe/publish against
// each other — an acceptable trade given publishes already have to visit
// every map entry under some lock regardless.
type Registry struct {
	mu             sync.Mutex
	connToSubs     map[id.ID]*subscriptions
	hubToConns     map[id.ID]map[id.ID]struct{}
	channelToConns map[id.ID]map[id.ID]struct{}
	writers        map[id.ID]WriterHandle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		connToSubs:     make(map[id.ID]*subscriptions),
		hubToConns:     make(map[id.ID]map[id.ID]struct{}),
		channelToConns: make(map[id.ID]map[id.ID]struct{}),
		writers:        make(map[id.ID]WriterHandle),
	}
}

// Connect registers a new connection and its writer handle. Connecting an
// already-registered connection ID replaces its writer handle but leaves its
// existing subscriptions intact, matching the resume-friendly behavior of
// the teacher's handleResume path.
func (r *Registry) Connect(connID id.ID, w WriterHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[connID] = w
	if _, ok := r.connToSubs[connID]; !ok {
		r.connToSubs[connID] = &subscriptions{
			hubs:     make(map[id.ID]struct{}),
			channels: make(map[id.ID]struct{}),
		}
	}
}

// Disconnect removes a connection and every subscription it held, returning
// the hub and channel IDs it was subscribed to so callers can decide whether
// to announce presence changes. Disconnecting an unknown connection is a
// no-op, making the call idempotent.
func (r *Registry) Disconnect(connID id.ID) (hubs, channels []id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.connToSubs[connID]
	if !ok {
		delete(r.writers, connID)
		return nil, nil
	}

	for hubID := range subs.hubs {
		r.removeFromSet(r.hubToConns, hubID, connID)
		hubs = append(hubs, hubID)
	}
	for chID := range subs.channels {
		r.removeFromSet(r.channelToConns, chID, connID)
		channels = append(channels, chID)
	}

	delete(r.connToSubs, connID)
	delete(r.writers, connID)
	return hubs, channels
}

func (r *Registry) removeFromSet(index map[id.ID]map[id.ID]struct{}, key, connID id.ID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}

// SubscribeHub subscribes connID to hub-level events for hubID. The
// connection must already be registered via Connect.
func (r *Registry) SubscribeHub(connID, hubID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.connToSubs[connID]
	if !ok {
		return
	}
	subs.hubs[hubID] = struct{}{}
	if r.hubToConns[hubID] == nil {
		r.hubToConns[hubID] = make(map[id.ID]struct{})
	}
	r.hubToConns[hubID][connID] = struct{}{}
}

// UnsubscribeHub reverses SubscribeHub. Unsubscribing from a hub the
// connection was never subscribed to is a no-op.
func (r *Registry) UnsubscribeHub(connID, hubID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.connToSubs[connID]; ok {
		delete(subs.hubs, hubID)
	}
	r.removeFromSet(r.hubToConns, hubID, connID)
}

// SubscribeChannel subscribes connID to channel-level events (new messages,
// typing) for channelID.
func (r *Registry) SubscribeChannel(connID, channelID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.connToSubs[connID]
	if !ok {
		return
	}
	subs.channels[channelID] = struct{}{}
	if r.channelToConns[channelID] == nil {
		r.channelToConns[channelID] = make(map[id.ID]struct{})
	}
	r.channelToConns[channelID][connID] = struct{}{}
}

// UnsubscribeChannel reverses SubscribeChannel.
func (r *Registry) UnsubscribeChannel(connID, channelID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.connToSubs[connID]; ok {
		delete(subs.channels, channelID)
	}
	r.removeFromSet(r.channelToConns, channelID, connID)
}

// PublishToHub delivers payload to every connection subscribed to hubID.
// Delivery is best-effort: a write failure on one connection's writer does
// not prevent delivery to the rest, matching SPEC_FULL.md's "best-effort,
// no delivery guarantee" non-goal.
func (r *Registry) PublishToHub(hubID id.ID, payload []byte) {
	r.mu.Lock()
	conns := make([]id.ID, 0, len(r.hubToConns[hubID]))
	for c := range r.hubToConns[hubID] {
		conns = append(conns, c)
	}
	writers := r.writersFor(conns)
	r.mu.Unlock()

	for _, w := range writers {
		_ = w.Enqueue(payload)
	}
}

// PublishToChannel delivers payload to every connection subscribed to
// channelID.
func (r *Registry) PublishToChannel(channelID id.ID, payload []byte) {
	r.mu.Lock()
	conns := make([]id.ID, 0, len(r.channelToConns[channelID]))
	for c := range r.channelToConns[channelID] {
		conns = append(conns, c)
	}
	writers := r.writersFor(conns)
	r.mu.Unlock()

	for _, w := range writers {
		_ = w.Enqueue(payload)
	}
}

func (r *Registry) writersFor(conns []id.ID) []WriterHandle {
	out := make([]WriterHandle, 0, len(conns))
	for _, c := range conns {
		if w, ok := r.writers[c]; ok {
			out = append(out, w)
		}
	}
	return out
}

// HubSubscriberCount reports how many connections are subscribed to hubID,
// used by tests.
func (r *Registry) HubSubscriberCount(hubID id.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubToConns[hubID])
}

// ChannelSubscriberCount reports how many connections are subscribed to
// channelID.
func (r *Registry) ChannelSubscriberCount(channelID id.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channelToConns[channelID])
}
