package store

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMapBasicOps(t *testing.T) {
	m := NewShardedMap[int](4)

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	assert.Equal(t, 0, m.Len())
}

func TestShardedMapUpdateIsAtomic(t *testing.T) {
	m := NewShardedMap[int](8)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Update("counter", func(cur int, _ bool) (int, bool) {
					return cur + 1, true
				})
			}
		}()
	}
	wg.Wait()

	v, _ := m.Get("counter")
	assert.Equal(t, 6400, v)
}

func TestShardedMapUpdateDelete(t *testing.T) {
	m := NewShardedMap[string](0)
	m.Set("k", "v")

	_, kept := m.Update("k", func(cur string, ok bool) (string, bool) {
		assert.True(t, ok)
		assert.Equal(t, "v", cur)
		return "", false
	})
	assert.False(t, kept)

	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestShardedMapRangeAllowsMutation(t *testing.T) {
	m := NewShardedMap[int](4)
	for i := 0; i < 50; i++ {
		m.Set(strconv.Itoa(i), i)
	}

	m.Range(func(key string, value int) bool {
		if value%2 == 0 {
			m.Delete(key)
		}
		return true
	})

	assert.Equal(t, 25, m.Len())
	assert.Len(t, m.Keys(), 25)
	assert.Equal(t, 25, m.Clear())
	assert.Equal(t, 0, m.Len())
}
