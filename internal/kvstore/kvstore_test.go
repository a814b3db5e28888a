package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/chainerr"
	"chainquery/internal/kvstore"
)

func TestBuildOpenGetForEach(t *testing.T) {
	path := t.TempDir() + "/store.db"
	require.NoError(t, kvstore.Build(path, map[string][]byte{
		"b\x01": []byte("one"),
		"b\x02": []byte("two"),
		"t\x01": []byte("three"),
	}))

	store, err := kvstore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	val, ok := store.Get([]byte("b\x01"))
	require.True(t, ok)
	assert.Equal(t, "one", string(val))

	_, ok = store.Get([]byte("missing"))
	assert.False(t, ok)

	var keys []string
	require.NoError(t, store.ForEach([]byte("b"), func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	assert.ElementsMatch(t, []string{"b\x01", "b\x02"}, keys)
}

func TestOpenFailsUnderLockContention(t *testing.T) {
	path := t.TempDir() + "/store.db"
	require.NoError(t, kvstore.Build(path, nil))

	first, err := kvstore.Open(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = kvstore.Open(path)
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.LockHeld))
}
