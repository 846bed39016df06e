package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemory_ContentLostOnClose(t *testing.T) {
	s, err := CreateMemory("volatile", quietOptions())
	require.NoError(t, err)
	assert.True(t, s.Exists())

	create(t, s, 2, "lost")
	id := s.ID()

	kind, err := s.ClusterTypeByName(ClusterDefault)
	assert.NoError(t, err)
	assert.Equal(t, ClusterMemory, kind)

	require.NoError(t, s.Delete())
	assert.False(t, s.Exists())

	require.NoError(t, s.Open())
	defer s.Close(true)

	assert.NotEqual(t, id, s.ID())
	count, err := s.Count(2)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(0), s.Version())
}

func TestMemory_OpenAddsUser(t *testing.T) {
	s, err := CreateMemory("volatile", quietOptions())
	require.NoError(t, err)

	require.NoError(t, s.Open())
	assert.Equal(t, 2, s.Users())

	require.NoError(t, s.Close(false))
	assert.False(t, s.IsClosed())

	require.NoError(t, s.Close(false))
	assert.True(t, s.IsClosed())
}

func TestMemory_ConcurrentOpen(t *testing.T) {
	s, err := CreateMemory("volatile", quietOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close(true))

	g := errgroup.Group{}
	for i := 0; i < 8; i++ {
		g.Go(s.Open)
	}

	require.NoError(t, g.Wait())
	defer s.Close(true)

	assert.False(t, s.IsClosed())
	assert.Equal(t, 8, s.Users())
}
