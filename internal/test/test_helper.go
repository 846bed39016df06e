package test

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ConfigureDataDir returns a fresh data directory for storage name, removed when
// the test finishes
func ConfigureDataDir(t *testing.T, name string) string {
	dataDir := path.Join(t.TempDir(), name)
	t.Cleanup(func() { Cleanup(t, dataDir) })

	return dataDir
}

func Cleanup(t *testing.T, dataDir string) {
	assert.NoError(t, os.RemoveAll(dataDir))
}

func FileExists(t *testing.T, path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	} else if err == nil {
		return true
	}

	assert.FailNow(t, fmt.Sprintf("failed attempting to check if %s exists", path))

	return false
}

// Record is an in-memory transaction record. OnStream, when set, runs every time
// the record is serialized.
type Record struct {
	Content  []byte
	Type     byte
	Ver      int32
	OnStream func() error
	Streamed int
}

func NewRecord(content string, recordType byte) *Record {
	return &Record{Content: []byte(content), Type: recordType}
}

func (r *Record) Stream() ([]byte, error) {
	r.Streamed++
	if r.OnStream != nil {
		if err := r.OnStream(); err != nil {
			return nil, err
		}
	}

	return r.Content, nil
}

func (r *Record) Version() int32 {
	return r.Ver
}

func (r *Record) SetVersion(version int32) {
	r.Ver = version
}

func (r *Record) RecordType() byte {
	return r.Type
}
