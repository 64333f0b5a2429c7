package transport

import "sync"

// FieldDesc is the narrow view this codec needs of a PV Data field
// descriptor; the real introspection type system is an external
// collaborator (spec.md §1, §6) — callers hand us whatever opaque
// descriptor their pvdata layer produced and we just cache it by ID.
type FieldDesc = any

// IntrospectionRegistry is a per-connection cache mapping small integer
// type-IDs to field descriptors, one for messages received and one for
// messages sent (spec.md §3, "introspection caches (incoming + outgoing)").
// Mutated only by the thread servicing that direction of the connection
// (spec.md §5 shared-resource policy) — the mutex exists only to guard
// against the rare cross-thread read (e.g. metrics/debug dumps).
type IntrospectionRegistry struct {
	mu  sync.Mutex
	byID map[int16]FieldDesc
	next int16
}

func NewIntrospectionRegistry() *IntrospectionRegistry {
	return &IntrospectionRegistry{byID: make(map[int16]FieldDesc, 16)}
}

func (r *IntrospectionRegistry) Get(id int16) (FieldDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	return d, ok
}

// Put registers desc under a freshly allocated ID and returns it.
func (r *IntrospectionRegistry) Put(desc FieldDesc) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.byID[id] = desc
	return id
}

// PutAt registers desc under a specific ID, e.g. one assigned by the peer.
func (r *IntrospectionRegistry) PutAt(id int16, desc FieldDesc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = desc
}

// Reset clears the cache, used when a transport reconnects (the peer's
// cache starts empty too).
func (r *IntrospectionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[int16]FieldDesc, 16)
	r.next = 0
}
