// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mangle

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// dictionaryFile is the on-disk shape of a bruteforce dictionary
// (§4.4): a flat YAML list of candidate words, optionally grouped
// into named sets so a caller can mix e.g. "weapons" and "common"
// without hand-concatenating files.
type dictionaryFile struct {
	Words []string            `yaml:"words"`
	Sets  map[string][]string `yaml:"sets"`
}

// LoadDictionary parses a bruteforce dictionary file (§4.4) and
// returns the flattened, deduplicated word list DemangleJob.Run
// expects. groups, if non-empty, restricts the result to just those
// named sets (in addition to the top-level words list); a nil/empty
// groups pulls in every set.
func LoadDictionary(data []byte, groups ...string) ([]string, error) {
	var f dictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(words []string) {
		for _, w := range words {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}

	add(f.Words)
	if len(groups) == 0 {
		for _, words := range f.Sets {
			add(words)
		}
	} else {
		for _, g := range groups {
			add(f.Sets[g])
		}
	}
	return out, nil
}

// Match is one successful dictionary-attack hit: candidate mangled to
// mangled, a name present in the known set.
type Match struct {
	Candidate string
	Mangled   string
}

// DemangleJob is a cancellable, parallelizable dictionary attack
// against a set of known mangled names (§4.4). It follows the same
// cooperative-cancellation shape as FilterScheduler jobs (§4.8): a
// shared flag flips, workers notice it at bounded intervals.
type DemangleJob struct {
	cancelled atomic.Bool
}

// Cancel flips the job's cancellation flag. Idempotent.
func (j *DemangleJob) Cancel() {
	j.cancelled.Store(true)
}

func (j *DemangleJob) Cancelled() bool {
	return j.cancelled.Load()
}

// boundary is one way two dictionary words may be joined when
// building a candidate (§4.4: "concatenated / space-separated /
// optional trailing s").
type boundary func(a, b string) string

var boundaries = []boundary{
	func(a, b string) string { return a + b },
	func(a, b string) string { return a + " " + b },
}

// expand generates every candidate formed by joining 1..depth words
// from dict (in order, without repetition) across the configured
// word-boundary variants, including each word's optional pluralized
// form.
func expand(dict []string, depth int, emit func(string) bool) {
	if depth < 1 {
		depth = 1
	}
	variants := func(word string) []string {
		return []string{word, word + "s"}
	}
	var recurse func(prefix string, start, remaining int) bool
	recurse = func(prefix string, start, remaining int) bool {
		if prefix != "" {
			if !emit(prefix) {
				return false
			}
		}
		if remaining == 0 {
			return true
		}
		for i := start; i < len(dict); i++ {
			for _, v := range variants(dict[i]) {
				if prefix == "" {
					if !recurse(v, i+1, remaining-1) {
						return false
					}
					continue
				}
				for _, join := range boundaries {
					if !recurse(join(prefix, v), i+1, remaining-1) {
						return false
					}
				}
			}
		}
		return true
	}
	recurse("", 0, depth)
}

// Run attacks dict against known (a set of mangled names to match
// against) up to the given depth, using workers goroutines, and
// returns every candidate whose mangling is present in known. The job
// is cancellable via ctx or j.Cancel(); partial results accumulated
// before cancellation are still returned (cancellation discards only
// future work, matching a FilterScheduler job's "partial results
// discarded" semantics being the caller's choice, not the job's).
func (j *DemangleJob) Run(ctx context.Context, dict []string, known map[string]struct{}, depth, workers int) []Match {
	if workers < 1 {
		workers = 1
	}
	candidates := make(chan string, workers*4)
	results := make(chan Match, workers*4)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int
			for cand := range candidates {
				n++
				if n%1000 == 0 && (j.Cancelled() || ctx.Err() != nil) {
					// Drain without further work so the
					// producer goroutine isn't blocked
					// forever on a full channel.
					for range candidates {
					}
					return
				}
				if m := Mangle5(cand); isKnownMultiSegment(cand, m, known) {
					results <- Match{Candidate: cand, Mangled: m}
				}
			}
		}()
	}

	go func() {
		defer close(candidates)
		expand(dict, depth, func(cand string) bool {
			if j.Cancelled() || ctx.Err() != nil {
				return false
			}
			select {
			case candidates <- cand:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var matches []Match
	for m := range results {
		matches = append(matches, m)
	}
	return matches
}

// isKnownMultiSegment checks a single-segment candidate's mangling
// against the known set directly, and (for multi-word candidates
// joined with a space) also checks it as a dotted full-name mangling,
// since a display name's on-disk form may itself be multi-segment.
func isKnownMultiSegment(candidate, mangled string, known map[string]struct{}) bool {
	if _, ok := known[mangled]; ok {
		return true
	}
	if strings.Contains(candidate, " ") {
		full := MangleFullName(strings.ReplaceAll(candidate, " ", "."))
		if _, ok := known[full]; ok {
			return true
		}
	}
	return false
}
