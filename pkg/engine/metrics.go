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
	"strconv"

	"github.com/aklivity/zilla-sub038/pkg/metrics"
	"github.com/aklivity/zilla-sub038/pkg/stream"
)

// metric types
const (
	WorkerMetrics = "worker"
)

// metric keys
const (
	FramesIn   = "frames_in"
	FramesOut  = "frames_out"
	BytesIn    = "bytes_in"
	BytesOut   = "bytes_out"
	Violations = "violations"
	Malformed  = "malformed"
	Opened     = "streams_opened"
	Closed     = "streams_closed"
	Dropped    = "frames_dropped"

	Streams     = "streams"
	Flows       = "flows"
	HeldBudgets = "budgets"
	InboundUsed = "inbound_used"
)

// newWorkerMetrics counts the traffic of w in the store and exposes its
// published state as gauges.
func newWorkerMetrics(store *metrics.Store, w *Worker) (*metrics.Metrics, error) {
	m, err := store.NewMetrics(WorkerMetrics, int64(w.Index()), map[string]string{
		"worker": strconv.Itoa(w.Index()),
	})
	if err != nil {
		return nil, err
	}
	w.router.SetMetrics(&stream.Metrics{
		FramesIn:   m.Counter(FramesIn),
		FramesOut:  m.Counter(FramesOut),
		BytesIn:    m.Counter(BytesIn),
		BytesOut:   m.Counter(BytesOut),
		Violations: m.Counter(Violations),
		Malformed:  m.Counter(Malformed),
		Opened:     m.Counter(Opened),
		Closed:     m.Counter(Closed),
		Dropped:    m.Counter(Dropped),
	})
	m.FunctionalGauge(Streams, w.Streams)
	m.FunctionalGauge(Flows, w.Flows)
	m.FunctionalGauge(HeldBudgets, w.HeldBudgets)
	m.FunctionalGauge(InboundUsed, func() int64 {
		used := int64(0)
		for _, rb := range w.inbound {
			used += rb.State().Size()
		}
		return used
	})
	return m, nil
}
