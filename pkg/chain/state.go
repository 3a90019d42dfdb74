package chain

// Journaled state collections. Reads are free; writes take the current call
// frame and register the undo that restores the previous state if the call
// reverts.

// Value is a single journaled cell.
type Value[T any] struct {
	v T
}

func NewValue[T any](initial T) *Value[T] { return &Value[T]{v: initial} }

func (c *Value[T]) Get() T { return c.v }

func (c *Value[T]) Set(ctx *Context, v T) {
	prev := c.v
	c.v = v
	ctx.OnRevert(func() { c.v = prev })
}

// Map is a journaled key/value table. Missing keys read as the zero value.
type Map[K comparable, V any] struct {
	m map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] { return &Map[K, V]{m: make(map[K]V)} }

func (m *Map[K, V]) Get(k K) V { return m.m[k] }

func (m *Map[K, V]) Lookup(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *Map[K, V]) Len() int { return len(m.m) }

func (m *Map[K, V]) Set(ctx *Context, k K, v V) {
	prev, existed := m.m[k]
	m.m[k] = v
	ctx.OnRevert(func() {
		if existed {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
}

// Keys returns the keys in unspecified order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys
}

// Set is a journaled membership set. Members are never removed.
type Set[K comparable] struct {
	m map[K]struct{}
}

func NewSet[K comparable]() *Set[K] { return &Set[K]{m: make(map[K]struct{})} }

func (s *Set[K]) Has(k K) bool {
	_, ok := s.m[k]
	return ok
}

func (s *Set[K]) Len() int { return len(s.m) }

// Add inserts k and reports whether it was absent.
func (s *Set[K]) Add(ctx *Context, k K) bool {
	if s.Has(k) {
		return false
	}
	s.m[k] = struct{}{}
	ctx.OnRevert(func() { delete(s.m, k) })
	return true
}

// List is an append-only arena; an item's index is its identity.
type List[T any] struct {
	items []T
}

func NewList[T any]() *List[T] { return &List[T]{} }

func (l *List[T]) Len() uint64 { return uint64(len(l.items)) }

func (l *List[T]) At(i uint64) (T, bool) {
	var zero T
	if i >= uint64(len(l.items)) {
		return zero, false
	}
	return l.items[i], true
}

// Append stores v and returns its index. The index is the next unused one
// and is never handed out again once committed.
func (l *List[T]) Append(ctx *Context, v T) uint64 {
	id := uint64(len(l.items))
	l.items = append(l.items, v)
	ctx.OnRevert(func() {
		var zero T
		l.items[id] = zero
		l.items = l.items[:id]
	})
	return id
}

// Items returns a copy of all items in index order.
func (l *List[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Index maps a key to the ids appended under it, in insertion order.
type Index[K comparable] struct {
	m map[K][]uint64
}

func NewIndex[K comparable]() *Index[K] { return &Index[K]{m: make(map[K][]uint64)} }

func (x *Index[K]) Add(ctx *Context, k K, id uint64) {
	x.m[k] = append(x.m[k], id)
	ctx.OnRevert(func() {
		ids := x.m[k]
		if len(ids) == 1 {
			delete(x.m, k)
			return
		}
		x.m[k] = ids[:len(ids)-1]
	})
}

// Get returns a copy of the ids for k; never nil.
func (x *Index[K]) Get(k K) []uint64 {
	ids := x.m[k]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}
