package storage

import "fmt"

const (
	// ClusterIDInvalid addresses the default cluster of a storage
	ClusterIDInvalid = -1
	// PositionNew marks a record that has not been placed in a cluster yet
	PositionNew int64 = -1
)

// RID identifies a record inside a storage: the cluster that owns it and the
// slot of that cluster's position table describing where its bytes live
type RID struct {
	ClusterID       int
	ClusterPosition int64
}

// NewRID returns an identifier for a record that will be created in clusterID
func NewRID(clusterID int) RID {
	return RID{ClusterID: clusterID, ClusterPosition: PositionNew}
}

// IsNew returns true if the record has not been assigned a position yet
func (r RID) IsNew() bool {
	return r.ClusterPosition < 0
}

func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.ClusterID, r.ClusterPosition)
}
