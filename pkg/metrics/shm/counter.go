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

package shm

import (
	"sync/atomic"

	gometrics "github.com/rcrowley/go-metrics"
)

// Counter is a go-metrics counter whose value lives in a zone entry, so
// tools attached to the region see it without asking the process.
type Counter struct {
	value *int64
}

// Clear sets the counter to zero.
func (c Counter) Clear() {
	atomic.StoreInt64(c.value, 0)
}

// Count returns the current count.
func (c Counter) Count() int64 {
	return atomic.LoadInt64(c.value)
}

// Dec decrements the counter by the given amount.
func (c Counter) Dec(i int64) {
	atomic.AddInt64(c.value, -i)
}

// Inc increments the counter by the given amount.
func (c Counter) Inc(i int64) {
	atomic.AddInt64(c.value, i)
}

// Snapshot returns a read-only copy of the counter.
func (c Counter) Snapshot() gometrics.Counter {
	return gometrics.CounterSnapshot(c.Count())
}
