package research

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/provider"
)

func TestTaskListTransitions(t *testing.T) {
	l := NewTaskList()
	added := l.Add(1,
		TaskStub{Query: "acme revenue", ResearchGoal: "financials"},
		TaskStub{Query: "  Acme   Revenue "},
		TaskStub{Query: "acme ceo"},
		TaskStub{Query: "   "},
	)
	require.Len(t, added, 2)
	assert.Equal(t, TaskUnprocessed, added[0].State)

	assert.False(t, l.Complete("acme revenue", "x", nil, nil), "must be processing first")
	assert.True(t, l.Start("ACME REVENUE"))
	assert.False(t, l.Start("acme revenue"))
	assert.True(t, l.Complete("acme revenue", "learned", []provider.Source{{URL: "https://a.example"}}, nil))
	assert.False(t, l.Fail("acme revenue", errors.New("late")), "settled tasks stay settled")

	assert.True(t, l.Start("acme ceo"))
	assert.True(t, l.Fail("acme ceo", errors.New("boom")))
	assert.False(t, l.Complete("acme ceo", "late", nil, nil))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, TaskCompleted, snap[0].State)
	assert.Equal(t, "learned", snap[0].Learning)
	assert.Equal(t, TaskFailed, snap[1].State)
	assert.Equal(t, "boom", snap[1].Error)
	assert.Len(t, l.Completed(), 1)
	assert.Empty(t, l.Unprocessed())
}

func TestTaskListSnapshotIsCopy(t *testing.T) {
	l := NewTaskList()
	l.Add(1, TaskStub{Query: "q"})
	l.Start("q")
	l.Complete("q", "l", []provider.Source{{URL: "https://a.example"}}, nil)

	snap := l.Snapshot()
	snap[0].Sources[0].URL = "mutated"
	snap[0].State = TaskFailed
	assert.Equal(t, "https://a.example", l.Snapshot()[0].Sources[0].URL)
	assert.Equal(t, TaskCompleted, l.Snapshot()[0].State)
}

func TestTaskListFreeze(t *testing.T) {
	l := NewTaskList()
	l.Add(1, TaskStub{Query: "q"})
	l.Start("q")
	l.Freeze()

	assert.False(t, l.Complete("q", "late", nil, nil))
	assert.Empty(t, l.Add(2, TaskStub{Query: "new"}))
	assert.Equal(t, TaskProcessing, l.Snapshot()[0].State)
}

func TestTaskListConcurrentSettle(t *testing.T) {
	l := NewTaskList()
	l.Add(1, TaskStub{Query: "q"})
	require.True(t, l.Start("q"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = l.Complete("q", "done", nil, nil)
			} else {
				ok = l.Fail("q", errors.New("failed"))
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDedupeSources(t *testing.T) {
	tasks := []Task{
		{Sources: []provider.Source{{URL: "https://a"}, {URL: "https://b"}}},
		{Sources: []provider.Source{{URL: "https://b"}, {URL: ""}, {URL: "https://c"}}},
	}
	got := dedupeSources(tasks)
	require.Len(t, got, 3)
	assert.Equal(t, "https://c", got[2].URL)
}
