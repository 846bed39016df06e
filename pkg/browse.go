package pkg

import (
	"fmt"
	"sort"

	"github.com/nbroyles/docstore/internal/cluster"
)

// Browse calls fn for every live record of clusterIDs, clusters in ascending id
// order and positions ascending. begin and end, when set, clip the browse to the
// records between them, both included.
//
// With lockWholeCluster each cluster is locked once for its whole iteration: records
// created or changed during the iteration of a cluster are not seen, and changes
// wait until the iteration moves on. Structural changes to the storage wait too.
func (e *engine) Browse(clusterIDs []int, begin, end *RID, fn BrowseFunc, lockWholeCluster bool) error {
	return e.browse(clusterIDs, begin, end, fn, lockWholeCluster, false)
}

// BrowseReverse is Browse in descending cluster and position order
func (e *engine) BrowseReverse(clusterIDs []int, begin, end *RID, fn BrowseFunc, lockWholeCluster bool) error {
	return e.browse(clusterIDs, begin, end, fn, lockWholeCluster, true)
}

func (e *engine) browse(clusterIDs []int, begin, end *RID, fn BrowseFunc, lockWholeCluster, reverse bool) error {
	ids := append([]int(nil), clusterIDs...)
	if reverse {
		sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	} else {
		sort.Ints(ids)
	}

	for _, id := range ids {
		if begin != nil && id < begin.ClusterID {
			continue
		}
		if end != nil && id > end.ClusterID {
			continue
		}

		c, err := e.resolve(id)
		if err != nil {
			return err
		}

		from, to := int64(0), int64(-1)
		if begin != nil && begin.ClusterID == c.ID() {
			from = begin.ClusterPosition
		}
		if end != nil && end.ClusterID == c.ID() {
			to = end.ClusterPosition
		}

		more, err := e.browseCluster(c, from, to, fn, lockWholeCluster, reverse)
		if err != nil || !more {
			return err
		}
	}

	return nil
}

func (e *engine) browseCluster(c cluster.Cluster, from, to int64, fn BrowseFunc, lockWholeCluster,
	reverse bool) (bool, error) {
	if lockWholeCluster {
		e.lock.RLock()
		defer e.lock.RUnlock()

		if err := e.checkOpen(); err != nil {
			return false, err
		}

		if current, err := e.clusterByID(c.ID()); err != nil {
			return false, err
		} else if current != c {
			return false, fmt.Errorf("cluster %s was dropped: %w", c.Name(), ErrConfiguration)
		}

		c.Lock()
		defer c.Unlock()
	}

	var it *cluster.PositionIterator
	if reverse {
		it = c.ReverseIterator(from, to)
	} else {
		it = c.Iterator(from, to)
	}

	for it.HasNext() {
		rid := RID{ClusterID: c.ID(), ClusterPosition: it.Next()}

		record, err := e.readRecord(c, rid, !lockWholeCluster)
		if err != nil {
			return false, err
		} else if record == nil {
			continue
		}

		if !fn(rid, record) {
			return false, nil
		}
	}

	return true, nil
}
