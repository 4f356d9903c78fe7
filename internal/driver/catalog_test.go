package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	cat := Catalog()
	require.Len(t, cat, 2)
	assert.Equal(t, Elasticsearch, cat[0].Solution)
	assert.Equal(t, Redis, cat[1].Solution)
	assert.Equal(t, []Executable{RollingRestart, FileTransfer, ClusterHealthCheck}, cat[0].Executables)
	assert.Equal(t, []Executable{RollingRestart, FileTransfer, Ping}, cat[1].Executables)
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"elasticsearch", "es", "elastic"} {
		e, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, 9200, e.DefaultPort)
	}
	e, ok := Lookup("redis")
	require.True(t, ok)
	assert.True(t, e.Supports(Ping))
	assert.False(t, e.Supports(ClusterHealthCheck))

	_, ok = Lookup("mongo")
	assert.False(t, ok)
}
