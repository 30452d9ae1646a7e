package concurrent

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForEach(t *testing.T) {
	var total int64
	err := ForEach([]int64{1, 2, 3, 4}, func(v int64) error {
		atomic.AddInt64(&total, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), total)
}

func TestForEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach([]int{1, 2, 3}, func(v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestThrottleBoundsConcurrency(t *testing.T) {
	var active, peak int64
	err := Throttle(make([]struct{}, 32), 4, func(struct{}) error {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		atomic.AddInt64(&active, -1)
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak, int64(4))
}

func TestMerge(t *testing.T) {
	a := make(chan int, 2)
	b := make(chan int, 2)
	a <- 1
	a <- 2
	b <- 3
	close(a)
	close(b)

	var total int
	for v := range Merge[int](a, b) {
		total += v
	}
	require.Equal(t, 6, total)
}
