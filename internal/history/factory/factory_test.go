package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDSNDisablesHistory(t *testing.T) {
	sink, err := New("")
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestSQLiteByScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	sink, err := New("sqlite://" + path)
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.NoError(t, sink.Close())
}

func TestSQLiteByBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	sink, err := New(path)
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.NoError(t, sink.Close())
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := New("clickhouse://localhost/db")
	assert.Error(t, err)
}
