package filter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/filter"
)

func waitForResult(t *testing.T, s *filter.Scheduler, want int) []int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r := s.Result(); len(r) == want {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a %d-element result", want)
	return nil
}

func TestSchedulerFiltersAndSorts(t *testing.T) {
	t.Parallel()
	s := filter.NewScheduler(filter.DomainContent)
	ids := []int{5, 1, 4, 2, 3}
	job := &filter.Job{
		IDs:    ids,
		Filter: func(id int) bool { return id%2 == 1 },
		Key:    func(id int) any { return id },
		Less:   func(a, b any) bool { return a.(int) < b.(int) },
	}
	s.Submit(context.Background(), job)
	got := waitForResult(t, s, 3)
	assert.Equal(t, []int{1, 3, 5}, got)
}

func TestSchedulerEmptyFilterMatchesAll(t *testing.T) {
	t.Parallel()
	s := filter.NewScheduler(filter.DomainFiles)
	ids := []int{3, 1, 2}
	job := &filter.Job{IDs: ids}
	s.Submit(context.Background(), job)
	got := waitForResult(t, s, 3)
	assert.ElementsMatch(t, []int{1, 2, 3}, got)
}

func TestSchedulerNewJobCancelsPrevious(t *testing.T) {
	t.Parallel()
	s := filter.NewScheduler(filter.DomainStrings)

	slow := &filter.Job{
		IDs: make([]int, 5000),
		Filter: func(id int) bool {
			time.Sleep(time.Microsecond)
			return true
		},
		Workers: 1,
	}
	for i := range slow.IDs {
		slow.IDs[i] = i
	}
	s.Submit(context.Background(), slow)

	fast := &filter.Job{IDs: []int{1, 2}}
	s.Submit(context.Background(), fast)

	got := waitForResult(t, s, 2)
	assert.ElementsMatch(t, []int{1, 2}, got)
	assert.True(t, slow.Cancelled())
}

func TestJobCancelIdempotent(t *testing.T) {
	t.Parallel()
	j := &filter.Job{}
	j.Cancel()
	j.Cancel()
	assert.True(t, j.Cancelled())
}

func TestJobProgressIndeterminateBeforeRun(t *testing.T) {
	t.Parallel()
	j := &filter.Job{}
	done, total := j.Progress()
	assert.Zero(t, done)
	assert.Zero(t, total)
}

func TestSchedulerContextCancellationLeavesPriorResultStanding(t *testing.T) {
	t.Parallel()
	s := filter.NewScheduler(filter.DomainEvents)
	s.Submit(context.Background(), &filter.Job{IDs: []int{7, 8}})
	waitForResult(t, s, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before the job even starts its scan

	slow := &filter.Job{
		IDs: make([]int, 5000),
		Filter: func(id int) bool {
			time.Sleep(time.Microsecond)
			return true
		},
		Workers: 1,
	}
	for i := range slow.IDs {
		slow.IDs[i] = i
	}
	s.Submit(ctx, slow)

	require.Never(t, func() bool { return len(s.Result()) == len(slow.IDs) }, 200*time.Millisecond, 10*time.Millisecond)
	assert.ElementsMatch(t, []int{7, 8}, s.Result())
}
