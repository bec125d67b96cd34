package irt

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// DefaultTopK is the number of highest-information candidates drawn from.
const DefaultTopK = 3

// Ranked pairs a candidate with its information at the ranking theta.
type Ranked struct {
	Item        Item
	Information float64
}

// Selector picks the next item uniformly among the top-K most informative
// candidates. Safe for concurrent use.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
	k   int
}

// NewSelector returns a Selector drawing from the k best candidates.
// k <= 0 selects DefaultTopK; a nil src seeds from the clock.
func NewSelector(k int, src rand.Source) *Selector {
	if k <= 0 {
		k = DefaultTopK
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Selector{rng: rand.New(src), k: k}
}

// K returns the candidate window size.
func (s *Selector) K() int { return s.k }

// Rank orders pool by descending information at theta. Ties keep pool order.
func Rank(pool []Item, theta float64) []Ranked {
	out := make([]Ranked, len(pool))
	for i, it := range pool {
		out[i] = Ranked{Item: it, Information: FisherInformation(it, theta)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Information > out[j].Information
	})
	return out
}

// SelectNext returns the next item to administer from pool, which must
// already exclude administered items. ok is false when pool is empty.
func (s *Selector) SelectNext(pool []Item, theta float64) (item Item, ok bool) {
	if len(pool) == 0 {
		return Item{}, false
	}
	ranked := Rank(pool, theta)
	k := s.k
	if k > len(ranked) {
		k = len(ranked)
	}

	s.mu.Lock()
	pick := s.rng.Intn(k)
	s.mu.Unlock()

	return ranked[pick].Item, true
}
