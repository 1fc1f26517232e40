package gridcalc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateIsStable(t *testing.T) {
	reg := NewRegistry(RecalcIncremental)
	a := reg.GetOrCreate("book-1")
	b := reg.GetOrCreate("book-1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Count())
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry(RecalcFull)
	id1, wb1 := reg.New()
	id2, wb2 := reg.New()
	assert.NotEqual(t, id1, id2)
	assert.NotSame(t, wb1, wb2)
	assert.Equal(t, RecalcFull, wb1.Mode())

	got, ok := reg.Get(id1)
	require.True(t, ok)
	assert.Same(t, wb1, got)
}

func TestRemove(t *testing.T) {
	reg := NewRegistry(RecalcIncremental)
	id, _ := reg.New()
	require.NoError(t, reg.Remove(id))
	_, ok := reg.Get(id)
	assert.False(t, ok)

	err := reg.Remove(id)
	require.Error(t, err)
	appErr, ok := err.(*AppError)
	require.True(t, ok)
	assert.Equal(t, NotFound, appErr.Code)
}

func TestIDsSorted(t *testing.T) {
	reg := NewRegistry(RecalcIncremental)
	reg.GetOrCreate("charlie")
	reg.GetOrCreate("alpha")
	reg.GetOrCreate("bravo")
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, reg.IDs())
}

func TestConcurrentGetOrCreate(t *testing.T) {
	reg := NewRegistry(RecalcIncremental)
	var wg sync.WaitGroup
	results := make([]*Workbook, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Count())
	for _, wb := range results[1:] {
		assert.Same(t, results[0], wb)
	}
}
