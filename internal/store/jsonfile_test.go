package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Value int `json:"value"`
}

func TestJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.json")
	f := NewJSONFile[record](path)

	_, err := f.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.Put("alice", record{Value: 1}))
	require.NoError(t, f.Put("bob", record{Value: 2}))
	require.NoError(t, f.Put("alice", record{Value: 3}))

	got, err := f.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Value)

	keys, err := f.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, keys)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, f.Delete("alice"))
	require.NoError(t, f.Delete("alice"))
	_, err = f.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	reopened := NewJSONFile[record](path)
	got, err = reopened.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Value)
}

func TestJSONFileUpdate(t *testing.T) {
	f := NewJSONFile[record](filepath.Join(t.TempDir(), "records.json"))

	require.NoError(t, f.Update("k", func(cur record, exists bool) (record, bool, error) {
		assert.False(t, exists)
		return record{Value: cur.Value + 1}, true, nil
	}))

	boom := errors.New("boom")
	err := f.Update("k", func(cur record, exists bool) (record, bool, error) {
		return record{}, true, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := f.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Value, "failed update leaves record untouched")

	require.NoError(t, f.Update("k", func(cur record, exists bool) (record, bool, error) {
		return cur, false, nil
	}))
	_, err = f.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONFileConcurrentUpdatesAreNotLost(t *testing.T) {
	f := NewJSONFile[record](filepath.Join(t.TempDir(), "records.json"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("user-%d", i%2)
			err := f.Update(key, func(cur record, _ bool) (record, bool, error) {
				cur.Value++
				return cur, true, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, key := range []string{"user-0", "user-1"} {
		got, err := f.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Value, key)
	}
}

func TestJSONFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewJSONFile[record](path).Get("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}
