package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRID_New(t *testing.T) {
	rid := NewRID(3)

	assert.True(t, rid.IsNew())
	assert.Equal(t, "#3:-1", rid.String())

	rid.ClusterPosition = 0
	assert.False(t, rid.IsNew())
	assert.Equal(t, "#3:0", rid.String())
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &ConcurrentModificationError{RID: RID{ClusterID: 3}, Op: "update", Current: 1, Expected: 0}
	assert.True(t, errors.Is(err, ErrConcurrentModification))
	assert.EqualError(t, err, "can't update record #3:0 because it has been modified by another user (v1 != v0). "+
		"reload it and retry")

	err = &CorruptionError{Segment: "default", Offset: 99, Reason: "out of bounds"}
	assert.True(t, errors.Is(err, ErrCorruption))
	assert.True(t, errors.Is(err, ErrStorage))
}
