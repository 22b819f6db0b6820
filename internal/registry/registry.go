// Package registry allocates namespace-local surrogate ids for natural keys.
//
// Every namespace reserves id 0 for the null sentinel, which the empty key
// always resolves to. A lookup and the allocation it may trigger happen under
// one per-namespace lock, so concurrent callers racing on an unseen key agree
// on a single id and exactly one of them observes it as new.
package registry

import (
	"sync"

	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
)

// Namespace names an id space backed by one store table.
type Namespace string

// Id spaces allocated by the registry.
const (
	URLs        Namespace = "urls"
	Artists     Namespace = "artists"
	Genres      Namespace = "genres"
	Labels      Namespace = "labels"
	Keywords    Namespace = "keywords"
	Entities    Namespace = "entities"
	AuthorTypes Namespace = "author_types"
)

// Namespaces lists every id space in a stable order.
var Namespaces = []Namespace{URLs, Artists, Genres, Labels, Keywords, Entities, AuthorTypes}

// SetName names a set of site-native keys that only needs first-seen dedup.
type SetName string

// Key sets tracked by the registry.
const (
	Albums  SetName = "albums"
	Authors SetName = "authors"
)

// Sets lists every key set in a stable order.
var Sets = []SetName{Albums, Authors}

// NullID is the surrogate id reserved for the null sentinel.
const NullID int64 = 0

// Snapshot is the persisted state a Registry is seeded from.
type Snapshot struct {
	IDs  map[Namespace]map[string]int64
	Keys map[SetName][]string
}

type namespace struct {
	mu   sync.Mutex
	ids  map[string]int64
	next int64
}

type keySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// Registry hands out surrogate ids. The zero value is not usable; call New.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[Namespace]*namespace
	sets       map[SetName]*keySet
}

// New builds a Registry seeded from snap. The snapshot is read once; later
// writes to the store by other processes are not observed.
func New(snap Snapshot) *Registry {
	r := &Registry{
		namespaces: make(map[Namespace]*namespace, len(Namespaces)),
		sets:       make(map[SetName]*keySet, len(Sets)),
	}
	for _, ns := range Namespaces {
		r.namespaces[ns] = newNamespace(snap.IDs[ns])
	}
	for name, ids := range snap.IDs {
		if _, ok := r.namespaces[name]; !ok {
			r.namespaces[name] = newNamespace(ids)
		}
	}
	for _, name := range Sets {
		r.sets[name] = newKeySet(snap.Keys[name])
	}
	for name, keys := range snap.Keys {
		if _, ok := r.sets[name]; !ok {
			r.sets[name] = newKeySet(keys)
		}
	}
	return r
}

func newNamespace(seed map[string]int64) *namespace {
	n := &namespace{ids: make(map[string]int64, len(seed)), next: 1}
	for key, id := range seed {
		if key == "" || id <= NullID {
			continue
		}
		n.ids[key] = id
		if id >= n.next {
			n.next = id + 1
		}
	}
	return n
}

func newKeySet(seed []string) *keySet {
	s := &keySet{keys: make(map[string]struct{}, len(seed))}
	for _, key := range seed {
		s.keys[key] = struct{}{}
	}
	return s
}

// LookupOrCreate returns the id bound to key in ns, allocating the next free
// id when the key has not been seen. isNew reports whether this call made the
// allocation.
func (r *Registry) LookupOrCreate(ns Namespace, key string) (isNew bool, id int64) {
	if key == "" {
		return false, NullID
	}
	n := r.namespace(ns)

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.ids[key]; ok {
		return false, existing
	}
	id = n.next
	n.next++
	n.ids[key] = id
	metrics.ObserveRegistryAllocation(string(ns))
	return true, id
}

// Claim marks key as seen in set and reports whether this call was first.
func (r *Registry) Claim(set SetName, key string) bool {
	s := r.keySet(set)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Stats returns the number of known keys per namespace and set.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.namespaces)+len(r.sets))
	for name, n := range r.namespaces {
		n.mu.Lock()
		out[string(name)] = len(n.ids)
		n.mu.Unlock()
	}
	for name, s := range r.sets {
		s.mu.Lock()
		out[string(name)] = len(s.keys)
		s.mu.Unlock()
	}
	return out
}

func (r *Registry) namespace(ns Namespace) *namespace {
	r.mu.RLock()
	n, ok := r.namespaces[ns]
	r.mu.RUnlock()
	if ok {
		return n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok = r.namespaces[ns]; !ok {
		n = newNamespace(nil)
		r.namespaces[ns] = n
	}
	return n
}

func (r *Registry) keySet(set SetName) *keySet {
	r.mu.RLock()
	s, ok := r.sets[set]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sets[set]; !ok {
		s = newKeySet(nil)
		r.sets[set] = s
	}
	return s
}
