package sharedstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetExistsClear(t *testing.T) {
	s := New()
	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.False(t, s.Exists("k"))

	s.Set("k", "v")
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, s.Exists("k"))

	s.Clear("k")
	assert.False(t, s.Exists("k"))
}

func TestIncDec(t *testing.T) {
	s := New()
	assert.EqualValues(t, 1, s.Inc("n", 1, 0))
	assert.EqualValues(t, 3, s.Inc("n", 2, 0))
	assert.EqualValues(t, 1, s.Dec("n", 2, 0))
}

func TestIncModulus(t *testing.T) {
	s := New()
	s.Set("n", "9")
	assert.EqualValues(t, 0, s.Inc("n", 1, 10))
	assert.EqualValues(t, 9, s.Dec("n", 1, 10))
}

func TestConcurrentInc(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Inc("counter", 1, 0)
		}()
	}
	wg.Wait()
	v, _ := s.Get("counter")
	assert.Equal(t, "100", v)
}
