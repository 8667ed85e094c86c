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

package ringbuffer

import (
	"fmt"
	"sync/atomic"

	"mosn.io/pkg/buffer"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// SpyPosition selects where a new spy starts reading.
type SpyPosition int

const (
	// SpyFromHead replays records the primary consumer has not read yet
	// once it reads them.
	SpyFromHead SpyPosition = iota
	// SpyFromTail observes only records claimed after the spy attached.
	SpyFromTail
)

// Spy is a trailing, non-consuming reader. It never reads past the primary
// consumer position, so every record it sees was already delivered. When
// the producer overwrites records the spy has not copied yet, the spy skips
// forward to the primary position and counts the loss.
type Spy struct {
	rb       *RingBuffer
	position int64
	slot     int
	scratch  buffer.IoBuffer
	dropped  int64
}

// Spy attaches a new spy. On a writable ring the spy publishes its
// position in a free header slot while one is available.
func (rb *RingBuffer) Spy(start SpyPosition) *Spy {
	s := &Spy{
		rb:      rb,
		slot:    -1,
		scratch: buffer.GetIoBuffer(256),
	}
	switch start {
	case SpyFromTail:
		s.position = atomic.LoadInt64(rb.int64Ptr(tailOffset))
	default:
		s.position = atomic.LoadInt64(rb.int64Ptr(headOffset))
	}
	if !rb.readOnly {
		for slot := 0; slot < MaxSpies; slot++ {
			if atomic.CompareAndSwapInt64(rb.int64Ptr(spyOffset+slot*CacheLine), 0, s.position+1) {
				s.slot = slot
				break
			}
		}
	}
	return s
}

// Position is the next position the spy reads from.
func (s *Spy) Position() int64 {
	return s.position
}

// Dropped counts the times the spy was lapped by the producer.
func (s *Spy) Dropped() int64 {
	return s.dropped
}

// Read hands up to limit records, already consumed by the primary
// consumer, to handler. The buffer passed to handler is a private copy.
func (s *Spy) Read(handler Handler, limit int) (int, error) {
	rb := s.rb
	head := atomic.LoadInt64(rb.int64Ptr(headOffset))

	messages := 0
	for messages < limit && s.position < head {
		index := int(s.position & rb.mask)
		record := HeaderLength + index
		length := atomic.LoadInt32(rb.int32Ptr(record + lengthFieldOffset))
		typeID := rb.getInt32(record + typeFieldOffset)
		if s.lapped(s.position) {
			s.skip(head)
			continue
		}

		aligned := align(int(length), RecordAlignment)
		if length < RecordHeaderLength || index+aligned > rb.capacity {
			s.publish()
			return messages, &types.CorruptionError{
				Region: rb.name,
				Offset: record,
				Reason: fmt.Sprintf("spy observed record length %d at index %d", length, index),
			}
		}

		if typeID != PaddingTypeID {
			s.scratch.Reset()
			s.scratch.Write(rb.buffer[record+RecordHeaderLength : record+int(length)])
		}
		if s.lapped(s.position) {
			s.skip(head)
			continue
		}

		s.position += int64(aligned)
		if typeID == PaddingTypeID {
			continue
		}
		handler(typeID, s.scratch.Bytes(), 0, int(length)-RecordHeaderLength)
		messages++
	}
	s.publish()
	return messages, nil
}

// Close releases the header slot and scratch buffer.
func (s *Spy) Close() {
	if s.slot >= 0 {
		atomic.StoreInt64(s.rb.int64Ptr(spyOffset+s.slot*CacheLine), 0)
		s.slot = -1
	}
	if s.scratch != nil {
		buffer.PutIoBuffer(s.scratch)
		s.scratch = nil
	}
}

// lapped reports whether the producer may have reused the bytes at position.
// The producer raises the tail intent before it touches any header, so a
// header rewritten under the spy is always seen as lapped here.
func (s *Spy) lapped(position int64) bool {
	intent := atomic.LoadInt64(s.rb.int64Ptr(tailIntentOffset))
	return intent-position > int64(s.rb.capacity)
}

func (s *Spy) skip(head int64) {
	s.dropped++
	s.position = head
}

func (s *Spy) publish() {
	if s.slot >= 0 {
		atomic.StoreInt64(s.rb.int64Ptr(spyOffset+s.slot*CacheLine), s.position+1)
	}
}
