package evo

import (
	"container/heap"
	"errors"
	"fmt"
)

var ErrPopulationFull = errors.New("population is full")

// Population is a max-heap of scored networks keyed by Score/Age. It holds
// up to size members plus one transient slot, which a generation needs when
// its last parent and child are inserted together.
type Population struct {
	size  int
	items priorityQueue
}

func NewPopulation(size int) *Population {
	if size < 0 {
		size = 0
	}
	return &Population{
		size:  size,
		items: make(priorityQueue, 0, size+1),
	}
}

func (p *Population) Len() int {
	return len(p.items)
}

// Size is the target member count.
func (p *Population) Size() int {
	return p.size
}

func (p *Population) Push(member *ScoredNetwork) error {
	if member == nil {
		return fmt.Errorf("population member is required")
	}
	if len(p.items) > p.size {
		return fmt.Errorf("%w: size=%d", ErrPopulationFull, p.size)
	}
	heap.Push(&p.items, member)
	return nil
}

// PopHighest removes and returns the member with the highest replacement
// priority, or nil when the population is empty.
func (p *Population) PopHighest() *ScoredNetwork {
	if len(p.items) == 0 {
		return nil
	}
	return heap.Pop(&p.items).(*ScoredNetwork)
}

// Members returns the current members in heap order.
func (p *Population) Members() []*ScoredNetwork {
	out := make([]*ScoredNetwork, len(p.items))
	copy(out, p.items)
	return out
}

// clone returns a population sharing the members but not the heap, so
// popping from it leaves p intact.
func (p *Population) clone() *Population {
	items := make(priorityQueue, len(p.items), p.size+1)
	copy(items, p.items)
	return &Population{size: p.size, items: items}
}

// Best scans for the member with the highest raw score.
func (p *Population) Best() *ScoredNetwork {
	var best *ScoredNetwork
	for _, member := range p.items {
		if best == nil || FitnessLess(*best, *member) {
			best = member
		}
	}
	return best
}

func (p *Population) weakestIndex() int {
	weakest := -1
	for i, member := range p.items {
		if weakest < 0 || FitnessLess(*member, *p.items[weakest]) {
			weakest = i
		}
	}
	return weakest
}

// removeWeakest drops the member with the lowest raw score.
func (p *Population) removeWeakest() *ScoredNetwork {
	idx := p.weakestIndex()
	if idx < 0 {
		return nil
	}
	return heap.Remove(&p.items, idx).(*ScoredNetwork)
}

// replaceWeakest puts member in place of the lowest raw score member.
func (p *Population) replaceWeakest(member *ScoredNetwork) {
	idx := p.weakestIndex()
	if idx < 0 {
		heap.Push(&p.items, member)
		return
	}
	p.items[idx] = member
	heap.Fix(&p.items, idx)
}

type priorityQueue []*ScoredNetwork

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	return PriorityLess(*q[j], *q[i])
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*ScoredNetwork))
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
