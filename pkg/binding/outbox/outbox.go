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

// Package outbox holds payloads a binding could not send yet and sends
// them as the window of the flow opens.
package outbox

import (
	"context"

	"mosn.io/pkg/buffer"

	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Outbox tracks the window of one sending flow. It is owned by a single
// worker.
type Outbox struct {
	streamID int64
	sequence int64
	limit    int64
	padding  int32
	pending  buffer.IoBuffer
	closing  int32
	closed   bool
}

func New(streamID int64) *Outbox {
	return &Outbox{streamID: streamID}
}

func (o *Outbox) StreamID() int64 {
	return o.streamID
}

// Window applies a WINDOW event of the flow.
func (o *Outbox) Window(e *stream.Event) {
	if limit := e.Acknowledge + int64(e.Maximum); limit > o.limit {
		o.limit = limit
	}
	o.padding = e.Padding
}

// Room is how many payload bytes the next DATA may carry.
func (o *Outbox) Room() int64 {
	room := o.limit - o.sequence - int64(o.padding)
	if room < 0 {
		return 0
	}
	return room
}

// Pending is the number of payload bytes waiting for window.
func (o *Outbox) Pending() int {
	if o.pending == nil {
		return 0
	}
	return o.pending.Len()
}

func (o *Outbox) Closed() bool {
	return o.closed
}

// Push queues payload behind anything already pending.
func (o *Outbox) Push(payload []byte) {
	if o.closed || len(payload) == 0 {
		return
	}
	if o.pending == nil {
		o.pending = buffer.GetIoBuffer(len(payload))
	}
	o.pending.Write(payload)
}

// Close sends END or ABORT once everything pending has been sent. ABORT
// discards what is pending.
func (o *Outbox) Close(kind int32) {
	if o.closing != 0 {
		return
	}
	o.closing = kind
	if kind == types.AbortTypeID && o.pending != nil {
		o.pending.Reset()
	}
}

// Flush sends as much pending payload as the window allows and returns
// the number of payload bytes sent. Running out of window, ring space or
// budget is not an error; the next Flush continues.
func (o *Outbox) Flush(ctx context.Context, sender stream.Sender) (int, error) {
	if o.closed {
		return 0, nil
	}
	sent := 0
	for o.Pending() > 0 {
		n := int64(o.pending.Len())
		if room := o.Room(); n > room {
			n = room
		}
		if n <= 0 {
			break
		}
		if err := sender.Send(ctx, o.streamID, types.DataTypeID, nil, o.pending.Bytes()[:n]); err != nil {
			if types.IsRecoverable(err) {
				break
			}
			o.Release()
			return sent, err
		}
		o.sequence += n + int64(o.padding)
		o.pending.Drain(int(n))
		sent += int(n)
	}
	if o.closing != 0 && o.Pending() == 0 {
		if err := sender.Send(ctx, o.streamID, o.closing, nil, nil); err != nil && types.IsRecoverable(err) {
			return sent, nil
		} else if err != nil {
			o.Release()
			return sent, err
		}
		o.Release()
	}
	return sent, nil
}

// Release drops anything pending and stops the outbox.
func (o *Outbox) Release() {
	o.closed = true
	if o.pending != nil {
		buffer.PutIoBuffer(o.pending)
		o.pending = nil
	}
}
