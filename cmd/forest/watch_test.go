package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forest/internal/forest"
)

func TestReloadableStackSwapsOnReload(t *testing.T) {
	first := forest.New(nil, nil, nil)
	second := forest.New(nil, nil, nil)
	builds := 0
	var closed []int

	stack, err := newReloadableStack(func() (*forest.Orchestrator, func(), error) {
		builds++
		n := builds
		orch := first
		if n > 1 {
			orch = second
		}
		return orch, func() { closed = append(closed, n) }, nil
	})
	require.NoError(t, err)
	require.Same(t, first, stack.current())

	require.NoError(t, stack.reload())
	assert.Same(t, second, stack.current())
	assert.Equal(t, []int{1}, closed, "old stack released after the swap")

	stack.close()
	assert.Equal(t, []int{1, 2}, closed)
	stack.close()
	assert.Equal(t, []int{1, 2}, closed, "close is idempotent")
}

func TestReloadableStackKeepsOldOnFailedRebuild(t *testing.T) {
	orch := forest.New(nil, nil, nil)
	closedOld := false
	calls := 0

	stack, err := newReloadableStack(func() (*forest.Orchestrator, func(), error) {
		calls++
		if calls > 1 {
			return nil, nil, errors.New("store path unwritable")
		}
		return orch, func() { closedOld = true }, nil
	})
	require.NoError(t, err)

	require.Error(t, stack.reload())
	assert.Same(t, orch, stack.current(), "failed rebuild keeps the running stack")
	assert.False(t, closedOld)
}
