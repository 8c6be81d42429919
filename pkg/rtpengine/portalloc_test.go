package rtpengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvenPorts_OnlyEvenInRange(t *testing.T) {
	ports := evenPorts(16385, 16391) // odd start, rounds up
	assert.Equal(t, []any{16386, 16388, 16390}, ports)
}

func TestLocalPortAllocator_AllocateExhaustsThenReleaseReplenishes(t *testing.T) {
	a := NewLocalPortAllocator(20000, 20004) // ports 20000, 20002
	ctx := context.Background()

	p1, err := a.Allocate(ctx)
	require.NoError(t, err)
	p2, err := a.Allocate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	inUse, err := a.InUse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inUse)

	_, err = a.Allocate(ctx)
	assert.Error(t, err, "pool should be exhausted")

	a.Release(ctx, p1)
	inUse, err = a.InUse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inUse)

	p3, err := a.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1, p3, "released port becomes available again")
}

func TestLocalPortAllocator_NoPortsInRangeStartsEmpty(t *testing.T) {
	a := NewLocalPortAllocator(100, 100)
	_, err := a.Allocate(context.Background())
	assert.Error(t, err)
}
