package accumulator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWithinCapacity(t *testing.T) {
	b, err := NewBounded[int](5)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		b.Append(i)
	}

	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())
	assert.Equal(t, 3, b.Len())

	s := b.Stats()
	assert.Equal(t, int64(3), s.TotalCount)
	assert.Equal(t, 3, s.Stored)
	assert.Equal(t, int64(0), s.Dropped)
	assert.Equal(t, 5, s.Capacity)
}

func TestOverflowKeepsMostRecent(t *testing.T) {
	const capacity = 4
	const appends = 10

	b, err := NewBounded[int](capacity)
	require.NoError(t, err)

	for i := 1; i <= appends; i++ {
		b.Append(i)
	}

	// The last capacity values survive, in order.
	assert.Equal(t, []int{7, 8, 9, 10}, b.Snapshot())

	s := b.Stats()
	assert.Equal(t, int64(appends), s.TotalCount)
	assert.Equal(t, capacity, s.Stored)
	assert.Equal(t, int64(appends-capacity), s.Dropped)
}

func TestDropCallbackReceivesOldestFirst(t *testing.T) {
	var dropped []int

	b, err := NewBounded[int](2, WithDropCallback[int](func(v int) {
		dropped = append(dropped, v)
	}))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Append(i)
	}

	assert.Equal(t, []int{1, 2, 3}, dropped)
}

func TestRecent(t *testing.T) {
	b, err := NewBounded[int](10)
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		b.Append(i)
	}

	assert.Equal(t, []int{4, 5, 6}, b.Recent(3))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, b.Recent(100))
	assert.Nil(t, b.Recent(0))
}

func TestRecentAfterWraparound(t *testing.T) {
	b, err := NewBounded[int](3)
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		b.Append(i)
	}

	assert.Equal(t, []int{6, 7}, b.Recent(2))
	assert.Equal(t, []int{5, 6, 7}, b.Snapshot())
}

func TestReset(t *testing.T) {
	b, err := NewBounded[int](3)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Append(i)
	}
	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())

	// Totals survive a reset.
	s := b.Stats()
	assert.Equal(t, int64(5), s.TotalCount)
	assert.Equal(t, int64(2), s.Dropped)

	b.Append(42)
	assert.Equal(t, []int{42}, b.Snapshot())
}

func TestInvalidCapacity(t *testing.T) {
	_, err := NewBounded[int](0)
	assert.Error(t, err)

	_, err = NewBounded[int](-1)
	assert.Error(t, err)
}

func TestConcurrentAppends(t *testing.T) {
	const capacity = 64
	b, err := NewBounded[string](capacity)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(fmt.Sprintf("w%d-%d", worker, i))
			}
		}(w)
	}
	wg.Wait()

	s := b.Stats()
	assert.Equal(t, int64(800), s.TotalCount)
	assert.Equal(t, capacity, s.Stored)
	assert.Equal(t, int64(800-capacity), s.Dropped)
	assert.Len(t, b.Snapshot(), capacity)
}
