/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"sort"

	"github.com/aklivity/zilla-sub038/pkg/stream"
)

// affinity is the round robin position over the workers allowed to accept
// the streams of one binding.
type affinity struct {
	workers []int
	next    int
}

// resolver picks remote workers for one local worker. A worker in the
// mask keeps every stream it opens; other workers spread theirs round
// robin across the mask.
type resolver struct {
	local    int
	count    int
	masks    map[int64][]int
	affinity map[int64]*affinity
}

func newResolver(local int, count int, masks map[int64][]int) *resolver {
	return &resolver{
		local:    local,
		count:    count,
		masks:    masks,
		affinity: make(map[int64]*affinity),
	}
}

func (r *resolver) resolve(routedID int64) int {
	a, ok := r.affinity[routedID]
	if !ok {
		a = r.newAffinity(routedID)
		r.affinity[routedID] = a
	}
	remote := a.workers[a.next]
	if remote != r.local {
		a.next = (a.next + 1) % len(a.workers)
	}
	return remote
}

func (r *resolver) newAffinity(routedID int64) *affinity {
	workers := r.masks[routedID]
	if len(workers) == 0 {
		workers = make([]int, r.count)
		for i := range workers {
			workers[i] = i
		}
	}
	a := &affinity{workers: workers}
	if i := sort.SearchInts(workers, r.local); i < len(workers) && workers[i] == r.local {
		a.next = i
	}
	return a
}

func (r *resolver) Resolver() stream.Resolver {
	return r.resolve
}

// affinityMask normalizes configured workers to a sorted set.
func affinityMask(workers []int) []int {
	if len(workers) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(workers))
	mask := make([]int, 0, len(workers))
	for _, w := range workers {
		if !seen[w] {
			seen[w] = true
			mask = append(mask, w)
		}
	}
	sort.Ints(mask)
	return mask
}
