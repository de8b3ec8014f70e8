package counter

// Set holds the counters of a run keyed by label, in registration order.
// It is owned by a single goroutine; concurrent producers build their own
// Set and Merge them afterwards.
type Set struct {
	labels   []string
	counters map[string]*Counter
	orders   map[string]Order
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		counters: make(map[string]*Counter),
		orders:   make(map[string]Order),
	}
}

// Get returns the counter for label, registering it on first use.
func (s *Set) Get(label string) *Counter {
	c, ok := s.counters[label]
	if !ok {
		c = New()
		s.counters[label] = c
		s.labels = append(s.labels, label)
	}
	return c
}

// Inc records one occurrence of value under label.
func (s *Set) Inc(label, value string) { s.Get(label).Inc(value) }

// Lookup returns the counter for label without registering it.
func (s *Set) Lookup(label string) (*Counter, bool) {
	c, ok := s.counters[label]
	return c, ok
}

// Labels returns the registered labels in registration order.
func (s *Set) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// SetOrder sets the listing order used for label's histogram and registers
// the label so it is reported even if it never counts anything.
func (s *Set) SetOrder(label string, order Order) {
	s.Get(label)
	s.orders[label] = order
}

// Order returns the listing order for label, ByCountDesc by default.
func (s *Set) Order(label string) Order {
	if o, ok := s.orders[label]; ok {
		return o
	}
	return ByCountDesc
}

// Merge folds other into s: counts are summed, labels new to s are appended
// in other's order, and orders already configured on s win.
func (s *Set) Merge(other *Set) {
	for _, label := range other.labels {
		s.Get(label).Merge(other.counters[label])
		if o, ok := other.orders[label]; ok {
			if _, mine := s.orders[label]; !mine {
				s.orders[label] = o
			}
		}
	}
}
