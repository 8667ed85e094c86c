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
	"runtime"
	"time"
)

// BackoffIdle is how a worker waits when a pass over its rings found
// nothing to do: it busy spins, then yields the processor, then parks
// for a period that doubles up to a maximum. Any work resets it.
type BackoffIdle struct {
	maxSpins  int
	maxYields int
	minPark   time.Duration
	maxPark   time.Duration

	spins  int
	yields int
	park   time.Duration

	yield func()
	sleep func(time.Duration)
}

func NewBackoffIdle(maxSpins int, maxYields int, minPark time.Duration, maxPark time.Duration) *BackoffIdle {
	return &BackoffIdle{
		maxSpins:  maxSpins,
		maxYields: maxYields,
		minPark:   minPark,
		maxPark:   maxPark,
		park:      minPark,
		yield:     runtime.Gosched,
		sleep:     time.Sleep,
	}
}

// Idle is called after every pass with the amount of work it did.
func (b *BackoffIdle) Idle(work int) {
	if work > 0 {
		b.Reset()
		return
	}
	switch {
	case b.spins < b.maxSpins:
		b.spins++
	case b.yields < b.maxYields:
		b.yields++
		b.yield()
	default:
		b.sleep(b.park)
		b.park *= 2
		if b.park > b.maxPark {
			b.park = b.maxPark
		}
	}
}

func (b *BackoffIdle) Reset() {
	b.spins = 0
	b.yields = 0
	b.park = b.minPark
}
