package container

// HashMap is a generic key -> value store. Iteration order is
// unspecified, matching §4.B. Go's builtin map already gives us hashing
// and equality for comparable keys, so this wraps one rather than
// reimplementing open addressing — the pluggable hash/equality the
// spec's C original needed for non-comparable keys has no analogue
// here since Go generics require `comparable` for map keys anyway.
type HashMap[K comparable, V any] struct {
	m map[K]V
}

func NewHashMap[K comparable, V any]() *HashMap[K, V] {
	return &HashMap[K, V]{m: make(map[K]V)}
}

func (h *HashMap[K, V]) Get(k K) (V, bool) {
	v, ok := h.m[k]
	return v, ok
}

func (h *HashMap[K, V]) Put(k K, v V) { h.m[k] = v }

func (h *HashMap[K, V]) Remove(k K) {
	delete(h.m, k)
}

func (h *HashMap[K, V]) Len() int { return len(h.m) }

// StealFirst returns and removes an arbitrary entry. ok is false if the
// map is empty.
func (h *HashMap[K, V]) StealFirst() (K, V, bool) {
	for k, v := range h.m {
		delete(h.m, k)
		return k, v, true
	}
	var zk K
	var zv V
	return zk, zv, false
}

// Each calls fn for every entry in unspecified order.
func (h *HashMap[K, V]) Each(fn func(K, V)) {
	for k, v := range h.m {
		fn(k, v)
	}
}
