package file

import (
	"io"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMedium_ReadWrite(t *testing.T) {
	m := NewMemory("mem")

	require.NoError(t, Write(m, []byte("abc"), 0))
	require.NoError(t, Write(m, []byte("xyz"), 10))

	size, err := m.Size()
	assert.NoError(t, err)
	assert.Equal(t, int64(13), size)

	buf := make([]byte, 3)
	_, err = m.ReadAt(buf, 10)
	assert.NoError(t, err)
	assert.Equal(t, []byte("xyz"), buf)

	_, err = m.ReadAt(buf, 13)
	assert.Equal(t, io.EOF, err)

	n, err := m.ReadAt(make([]byte, 5), 11)
	assert.Equal(t, 2, n)
	assert.Equal(t, io.EOF, err)
}

func TestMemoryMedium_Int64(t *testing.T) {
	m := NewMemory("mem")

	require.NoError(t, WriteInt64(m, 8, -42))

	v, err := ReadInt64(m, 8)
	assert.NoError(t, err)
	assert.Equal(t, int64(-42), v)

	_, err = ReadInt64(m, 64)
	assert.Error(t, err)
}

func TestFileMedium_CreateOpen(t *testing.T) {
	filePath := path.Join(t.TempDir(), "sub", "data.oda")

	m, err := Create(filePath)
	require.NoError(t, err)

	require.NoError(t, Write(m, []byte("howdy"), 0))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	_, err = Create(filePath)
	assert.EqualError(t, err, "attempting to create "+filePath+" but already exists")

	m, err = Open(filePath)
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, []byte("howdy"), buf)

	require.NoError(t, m.Truncate(2))
	size, err := m.Size()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), size)

	require.NoError(t, m.Remove())
	exists, err := Exists(filePath)
	assert.NoError(t, err)
	assert.False(t, exists)

	_, err = os.Stat(filePath)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_NotExist(t *testing.T) {
	_, err := Open(path.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
