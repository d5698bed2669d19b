package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayQueue_PopDueOrdering(t *testing.T) {
	d := newDelayQueue()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	d.Push(Job{ItemID: "c", DueAt: base.Add(3 * time.Hour)})
	d.Push(Job{ItemID: "a", DueAt: base.Add(1 * time.Hour)})
	d.Push(Job{ItemID: "b", DueAt: base.Add(2 * time.Hour)})

	next, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Hour), next)

	due := d.PopDue(base.Add(2 * time.Hour))
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ItemID)
	assert.Equal(t, "b", due[1].ItemID, "a job due exactly now is popped")
	assert.Equal(t, 1, d.Len())
}

func TestDelayQueue_Empty(t *testing.T) {
	d := newDelayQueue()

	_, ok := d.Next()
	assert.False(t, ok)
	assert.Empty(t, d.PopDue(time.Now()))
}

func TestDelayQueue_DuplicateDueTimes(t *testing.T) {
	d := newDelayQueue()
	at := time.Now()
	for _, id := range []string{"x", "y", "z"} {
		d.Push(Job{ItemID: id, DueAt: at})
	}

	seen := map[string]bool{}
	for _, j := range d.PopDue(at) {
		assert.False(t, seen[j.ItemID], "duplicate pop for %s", j.ItemID)
		seen[j.ItemID] = true
	}
	assert.Len(t, seen, 3)
}

func TestDelayQueue_ConcurrentPush(t *testing.T) {
	d := newDelayQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d.Push(Job{ItemID: "j", DueAt: time.Unix(int64(n), 0)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, d.Len())
	next, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, time.Unix(0, 0), next)
}
