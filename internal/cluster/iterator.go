package cluster

import (
	log "github.com/sirupsen/logrus"
)

// PositionIterator walks the valid positions of a cluster lazily. Removed slots are
// skipped. Positions appended after the iterator was created are seen unless end
// bounds the walk, or the cluster is locked for the iteration.
type PositionIterator struct {
	cluster Cluster
	begin   int64
	end     int64
	reverse bool
	next    int64
}

func newIterator(c Cluster, begin, end int64, reverse bool) *PositionIterator {
	if begin < 0 {
		begin = 0
	}

	it := &PositionIterator{cluster: c, begin: begin, end: end, reverse: reverse}
	it.Reset()

	return it
}

// Reset rewinds the iterator to its first position
func (i *PositionIterator) Reset() {
	if i.reverse {
		i.next = i.upper()
	} else {
		i.next = i.begin
	}
}

func (i *PositionIterator) upper() int64 {
	last := i.cluster.slotCount() - 1
	if i.end >= 0 && i.end < last {
		return i.end
	}

	return last
}

// HasNext returns true if there's another valid position available
func (i *PositionIterator) HasNext() bool {
	if i.reverse {
		for ; i.next >= i.begin; i.next-- {
			if i.cluster.isValid(i.next) {
				return true
			}
		}
		return false
	}

	for upper := i.upper(); i.next <= upper; i.next++ {
		if i.cluster.isValid(i.next) {
			return true
		}
	}

	return false
}

// Next returns the next valid position
func (i *PositionIterator) Next() int64 {
	if !i.HasNext() {
		log.Panic("iterator has no next element")
	}

	pos := i.next
	if i.reverse {
		i.next--
	} else {
		i.next++
	}

	return pos
}
