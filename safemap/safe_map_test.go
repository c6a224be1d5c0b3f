package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	require.NotNil(t, m)
	assert.Equal(t, 0, count(m))
}

func TestSafeMap_Store_Load(t *testing.T) {
	m := NewSafeMap[uint32, string]()

	t.Run("load returns stored value", func(t *testing.T) {
		m.Store(1, "one")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "one", v)
	})

	t.Run("store overwrites", func(t *testing.T) {
		m.Store(1, "uno")
		v, _ := m.Load(1)
		assert.Equal(t, "uno", v)
		assert.Equal(t, 1, count(m))
	})

	t.Run("missing key returns zero value", func(t *testing.T) {
		v, ok := m.Load(42)
		assert.False(t, ok)
		assert.Equal(t, "", v)
	})
}

func TestSafeMap_Delete(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	_, ok := m.Load("a")
	assert.False(t, ok)
}

func TestSafeMap_Range(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("visits every entry", func(t *testing.T) {
		sum := 0
		m.Range(func(_ string, v int) bool {
			sum += v
			return true
		})
		assert.Equal(t, 6, sum)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		calls := 0
		m.Range(func(string, int) bool {
			calls++
			return false
		})
		assert.Equal(t, 1, calls)
	})
}

func TestSafeMap_ZeroValueIsUsable(t *testing.T) {
	var m SafeMap[int, []byte]
	m.Store(1, nil)
	v, ok := m.Load(1)
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const ops = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				k := id*ops + i
				m.Store(k, k)
				_, _ = m.Load(k)
				m.Range(func(int, int) bool { return false })
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*ops, count(m))

	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				m.Delete(id*ops + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, count(m))
}

func count[K comparable, V any](m *SafeMap[K, V]) int {
	n := 0
	m.Range(func(K, V) bool {
		n++
		return true
	})
	return n
}
