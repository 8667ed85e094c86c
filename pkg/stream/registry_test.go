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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aklivity/zilla-sub038/pkg/id"
)

func TestRegistryCountsStreams(t *testing.T) {
	r := NewRegistry()
	initialID := id.NewSupplier(0).InitialID(1)
	replyID := id.ReplyID(initialID)

	r.PutSender(&Flow{StreamID: initialID})
	r.PutReceiver(&Flow{StreamID: replyID})
	assert.Equal(t, 1, r.Streams())
	assert.Equal(t, 2, r.Flows())

	// replacing a flow does not count it twice
	r.PutSender(&Flow{StreamID: initialID, State: StateOpen})
	assert.Equal(t, StateOpen, r.Sender(initialID).State)

	assert.False(t, r.RemoveSender(initialID))
	assert.False(t, r.RemoveSender(initialID))
	assert.Equal(t, 1, r.Streams())
	assert.True(t, r.RemoveReceiver(replyID))
	assert.Equal(t, 0, r.Streams())
	assert.Equal(t, 0, r.Flows())
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry()
	r.PutReceiver(&Flow{StreamID: 3})
	r.PutSender(&Flow{StreamID: 5})
	r.PutSender(&Flow{StreamID: 7})

	var receiving, sending int
	r.Range(func(f *Flow, receiver bool) bool {
		if receiver {
			receiving++
		} else {
			sending++
		}
		return true
	})
	assert.Equal(t, 1, receiving)
	assert.Equal(t, 2, sending)

	visited := 0
	r.Range(func(*Flow, bool) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestFlowWindow(t *testing.T) {
	f := &Flow{Sequence: 30, Acknowledge: 10, Maximum: 50}
	assert.Equal(t, int64(60), f.Limit())
	assert.Equal(t, int64(30), f.Window())
	assert.True(t, StateReset.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.Equal(t, "CLOSED", StateClosed.String())
}
