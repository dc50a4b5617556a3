// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filter implements the FilterScheduler (C10, §4.8): one
// scheduler per list-view domain, running cancellable jobs that scan
// an ID range under a filter/sort snapshot and publish a result vector
// for the UI to read.
package filter

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
)

// Domain is one of §4.8's five list-view domains, each with its own
// independent Scheduler instance.
type Domain int

const (
	DomainFiles Domain = iota
	DomainStrings
	DomainContent
	DomainConversations
	DomainEvents
)

// Predicate reports whether id matches the active filter snapshot.
// Evaluated concurrently from multiple partition workers, so it must
// not mutate shared state.
type Predicate func(id int) bool

// KeyFunc computes one id's sort key, for the complex-sort helper
// (§4.8: "build (id, key(id)) pairs, stable-sort by key then by id,
// extract id — this avoids recomputing keys inside comparators").
type KeyFunc func(id int) any

// Less compares two previously-computed sort keys. Its zero value (a
// nil Less) degenerates complex-sort into "leave scan order alone."
type Less func(a, b any) bool

// Job is one scheduler request: a snapshot of a filter predicate and
// an optional sort (§4.8: "(snapshot-of-filter, snapshot-of-sort) →
// vector<Id>").
type Job struct {
	IDs    []int
	Filter Predicate
	Key    KeyFunc
	Less   Less

	// Workers is the partition count for the filter scan; 0 picks the
	// scheduler's default.
	Workers int

	cancelled atomic.Bool
	total     atomic.Int64 // 0 == indeterminate, per §4.8
	done      atomic.Int64
}

// Cancel flips the job's cooperative cancellation flag. Idempotent
// (§4.8: "Cancellation is idempotent"), matching
// mangle.DemangleJob.Cancel's shape.
func (j *Job) Cancel() { j.cancelled.Store(true) }

func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Progress reports (done, total); total == 0 means indeterminate
// (§4.8: "Jobs may declare themselves indeterminate (total = 0) or
// publish a total + running counter; the UI samples these").
func (j *Job) Progress() (done, total int64) {
	return j.done.Load(), j.total.Load()
}

// complexSort implements §4.8's named helper exactly: compute every
// id's key once, stable-sort (id, key) pairs by key then by id, and
// extract id. A nil less leaves ids in their filtered-scan order.
func complexSort(ids []int, key KeyFunc, less Less) []int {
	if key == nil || less == nil {
		return ids
	}
	type pair struct {
		id  int
		key any
	}
	pairs := make([]pair, len(ids))
	for i, id := range ids {
		pairs[i] = pair{id: id, key: key(id)}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if less(pairs[i].key, pairs[j].key) {
			return true
		}
		if less(pairs[j].key, pairs[i].key) {
			return false
		}
		return pairs[i].id < pairs[j].id
	})
	out := make([]int, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// yieldEvery is the "bounded interval" cancellation check cadence
// (§4.8: "every ~1000 items processed, or at each I/O boundary").
const yieldEvery = 1000

// partBufPool recycles the per-partition result buffers runPartitioned
// allocates on every job, since a scheduler re-scans its full ID range
// on each keystroke-driven re-filter (§4.8).
var partBufPool containers.SyncPool[[]int]

// runPartitioned evaluates job.Filter over job.IDs across workers
// disjoint partitions in parallel, concatenating each partition's
// surviving ids on completion (§4.8: "evaluated in parallel over
// disjoint partitions of the ID range; partial per-thread vectors are
// concatenated on completion"). Returns nil if cancelled.
func runPartitioned(ctx context.Context, job *Job) []int {
	workers := job.Workers
	if workers < 1 {
		workers = 1
	}
	n := len(job.IDs)
	job.total.Store(int64(n))

	partResults := make([][]int, workers)
	chunk := (n + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			continue
		}
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			local, _ := partBufPool.Get()
			local = local[:0]
			for i := start; i < end; i++ {
				if (i-start)%yieldEvery == 0 && (job.Cancelled() || ctx.Err() != nil) {
					return
				}
				id := job.IDs[i]
				if job.Filter == nil || job.Filter(id) {
					local = append(local, id)
				}
				job.done.Add(1)
			}
			partResults[w] = local
		}(w, start, end)
	}
	wg.Wait()

	if job.Cancelled() || ctx.Err() != nil {
		return nil
	}

	out := []int{}
	for _, part := range partResults {
		out = append(out, part...)
		partBufPool.Put(part[:0])
	}
	return out
}

// Scheduler is one list-view domain's job runner (§4.8): launching a
// new job cancels whichever job is in flight, and an observer sees the
// previous completed result vector until a new job finishes.
type Scheduler struct {
	Domain Domain

	// current holds whichever *Job is in flight, swapped lock-free on
	// each Submit; result is the separately-guarded last *completed*
	// vector (a slice isn't comparable, so it can't live in a
	// SyncValue alongside current).
	current containers.SyncValue[*Job]
	mu      sync.Mutex
	result  []int
}

func NewScheduler(domain Domain) *Scheduler {
	return &Scheduler{Domain: domain}
}

// Result returns the last completed result vector, or nil before any
// job has ever completed.
func (s *Scheduler) Result() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Submit cancels any job currently running on this scheduler and
// launches job on a new worker goroutine. The previous job's partial
// results are discarded; Result keeps returning the last *completed*
// vector until job itself completes (§4.8).
func (s *Scheduler) Submit(ctx context.Context, job *Job) {
	if prev, ok := s.current.Swap(job); ok && prev != nil {
		prev.Cancel()
	}

	go func() {
		filtered := runPartitioned(ctx, job)
		if filtered == nil {
			return // cancelled: previous completed vector stands
		}
		sorted := complexSort(filtered, job.Key, job.Less)

		if cur, _ := s.current.Load(); cur != job {
			// A newer job already replaced this one between our
			// scan finishing and checking current; don't clobber
			// its (possibly still-running) slot with stale results.
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.result = sorted
	}()
}
