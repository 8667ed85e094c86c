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

package stream

import (
	"github.com/aklivity/zilla-sub038/pkg/budget"
	"github.com/aklivity/zilla-sub038/pkg/id"
)

// Flow is one direction of a stream as seen by a single worker. A worker
// either receives a flow, granting it window, or sends on it, spending
// the window its peer granted.
type Flow struct {
	StreamID      int64
	OriginID      int64
	RoutedID      int64
	Affinity      int64
	Authorization int64

	Sequence    int64
	Acknowledge int64
	Maximum     int32
	Padding     int32
	BudgetID    int64

	State State

	budget  budget.Handle
	handler Handler
}

// Limit is the highest sequence the sender may reach.
func (f *Flow) Limit() int64 {
	return f.Acknowledge + int64(f.Maximum)
}

// Window is the space still open to the sender.
func (f *Flow) Window() int64 {
	return f.Limit() - f.Sequence
}

// Registry holds the flows of one worker, keyed by stream id. Not safe
// for concurrent use.
type Registry struct {
	receivers map[int64]*Flow
	senders   map[int64]*Flow
	streams   map[int64]int
}

func NewRegistry() *Registry {
	return &Registry{
		receivers: make(map[int64]*Flow),
		senders:   make(map[int64]*Flow),
		streams:   make(map[int64]int),
	}
}

func (r *Registry) Receiver(streamID int64) *Flow {
	return r.receivers[streamID]
}

func (r *Registry) Sender(streamID int64) *Flow {
	return r.senders[streamID]
}

func (r *Registry) PutReceiver(f *Flow) {
	if _, ok := r.receivers[f.StreamID]; !ok {
		r.streams[id.InitialID(f.StreamID)]++
	}
	r.receivers[f.StreamID] = f
}

func (r *Registry) PutSender(f *Flow) {
	if _, ok := r.senders[f.StreamID]; !ok {
		r.streams[id.InitialID(f.StreamID)]++
	}
	r.senders[f.StreamID] = f
}

// RemoveReceiver drops the flow and reports whether its stream is gone.
func (r *Registry) RemoveReceiver(streamID int64) bool {
	if _, ok := r.receivers[streamID]; !ok {
		return false
	}
	delete(r.receivers, streamID)
	return r.release(streamID)
}

// RemoveSender drops the flow and reports whether its stream is gone.
func (r *Registry) RemoveSender(streamID int64) bool {
	if _, ok := r.senders[streamID]; !ok {
		return false
	}
	delete(r.senders, streamID)
	return r.release(streamID)
}

func (r *Registry) release(streamID int64) bool {
	key := id.InitialID(streamID)
	r.streams[key]--
	if r.streams[key] > 0 {
		return false
	}
	delete(r.streams, key)
	return true
}

// Streams is the number of streams with at least one live flow.
func (r *Registry) Streams() int {
	return len(r.streams)
}

// Flows is the number of live flows.
func (r *Registry) Flows() int {
	return len(r.receivers) + len(r.senders)
}

// Range calls fn for every flow until fn returns false. Receivers come
// first.
func (r *Registry) Range(fn func(f *Flow, receiving bool) bool) {
	for _, f := range r.receivers {
		if !fn(f, true) {
			return
		}
	}
	for _, f := range r.senders {
		if !fn(f, false) {
			return
		}
	}
}
