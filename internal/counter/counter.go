// Package counter provides the occurrence counters collected during a run
// for reporting: a per-label multiset of observed values with stable
// iteration orders.
package counter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Order selects how a counter's entries are listed.
type Order string

const (
	ByKeyDesc   Order = "by_key"
	ByKeyAsc    Order = "by_key_asc"
	ByCountDesc Order = "by_count"
)

// ParseOrder accepts the Order names; empty means ByCountDesc.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", ByCountDesc:
		return ByCountDesc, nil
	case ByKeyDesc:
		return ByKeyDesc, nil
	case ByKeyAsc:
		return ByKeyAsc, nil
	}
	return "", fmt.Errorf("counter: unknown order %q", s)
}

// Entry is one value and how often it was seen.
type Entry struct {
	Key   string
	Count int
}

// Counter maps a value to its occurrence count. Counts only grow.
// Ties are broken by first insertion.
type Counter struct {
	counts map[string]int
	keys   []string
}

// New returns an empty Counter.
func New() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Inc records one occurrence of key.
func (c *Counter) Inc(key string) { c.Add(key, 1) }

// Add records n occurrences of key. Non-positive n is ignored.
func (c *Counter) Add(key string, n int) {
	if n <= 0 {
		return
	}
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.counts[key] += n
}

// Count returns the occurrences of key.
func (c *Counter) Count(key string) int { return c.counts[key] }

// Len returns the number of distinct keys.
func (c *Counter) Len() int { return len(c.keys) }

// Total returns the sum of all counts.
func (c *Counter) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Entries lists the counter in the requested order.
func (c *Counter) Entries(order Order) []Entry {
	out := make([]Entry, len(c.keys))
	for i, k := range c.keys {
		out[i] = Entry{Key: k, Count: c.counts[k]}
	}
	switch order {
	case ByKeyDesc:
		sort.SliceStable(out, func(i, j int) bool { return lessKey(out[j].Key, out[i].Key) })
	case ByKeyAsc:
		sort.SliceStable(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	}
	return out
}

// Merge adds every count of other into c, keeping c's insertion order for
// keys it already has.
func (c *Counter) Merge(other *Counter) {
	for _, k := range other.keys {
		c.Add(k, other.counts[k])
	}
}

// lessKey compares integer keys numerically and everything else as strings,
// so point histograms sort 100 > 95 > 9.
func lessKey(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
