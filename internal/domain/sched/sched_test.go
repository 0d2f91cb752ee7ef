package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickRoundRobin(t *testing.T) {
	r := New()
	runnable := map[int]bool{1: true, 3: true, 4: true}
	is := func(i int) bool { return runnable[i] }

	var order []int
	for k := 0; k < 6; k++ {
		i, ok := r.Pick(5, is)
		assert.True(t, ok)
		order = append(order, i)
	}
	assert.Equal(t, []int{1, 3, 4, 1, 3, 4}, order)
}

func TestPickFallsBackToLast(t *testing.T) {
	r := New()
	only := func(i int) bool { return i == 2 }
	i, ok := r.Pick(4, only)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	i, ok = r.Pick(4, only)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, uint64(1), r.Stats().Switches)
}

func TestPickIdle(t *testing.T) {
	r := New()
	_, ok := r.Pick(4, func(int) bool { return false })
	assert.False(t, ok)
	_, ok = r.Pick(0, func(int) bool { return true })
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.Stats().Idle)
}
