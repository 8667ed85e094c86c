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

// Package ringbuffer carries framed records between workers over a shared
// memory region. One producer claims, fills and commits records; one
// primary consumer reads them in commit order. Spy readers trail the
// primary consumer for inspection and never influence delivery.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Handler receives one committed record. buffer[index:index+length] holds
// the message and is only valid until the handler returns.
type Handler func(typeID int32, buffer []byte, index int, length int)

// State is a point in time view of the positions, for logs and tooling.
type State struct {
	Capacity int
	Tail     int64
	Head     int64
	Spies    []int64
}

// Size is the number of bytes claimed but not yet consumed.
func (s State) Size() int64 {
	return s.Tail - s.Head
}

type RingBuffer struct {
	name     string
	buffer   []byte
	capacity int
	mask     int64
	readOnly bool
}

// New lays out an empty ring in region. Any previous content is discarded.
func New(name string, region []byte) (*RingBuffer, error) {
	rb, err := newRingBuffer(name, region, len(region)-HeaderLength, false)
	if err != nil {
		return nil, err
	}
	for i := 0; i < HeaderLength; i += 8 {
		atomic.StoreInt64(rb.int64Ptr(i), 0)
	}
	rb.putInt32(capacityOffset, int32(rb.capacity))
	atomic.StoreInt32(rb.int32Ptr(magicOffset), magic)
	return rb, nil
}

// Wrap attaches to a ring laid out by New, possibly in another process.
// A read-only ring only supports spies.
func Wrap(name string, region []byte, readOnly bool) (*RingBuffer, error) {
	if len(region) <= HeaderLength {
		return nil, fmt.Errorf("ring %s: region of %d bytes has no data area", name, len(region))
	}
	rb := &RingBuffer{name: name, buffer: region}
	if atomic.LoadInt32(rb.int32Ptr(magicOffset)) != magic {
		return nil, fmt.Errorf("ring %s: not initialized", name)
	}
	capacity := int(rb.getInt32(capacityOffset))
	if capacity != len(region)-HeaderLength {
		return nil, fmt.Errorf("ring %s: capacity %d does not match region of %d bytes", name, capacity, len(region))
	}
	return newRingBuffer(name, region, capacity, readOnly)
}

func newRingBuffer(name string, region []byte, capacity int, readOnly bool) (*RingBuffer, error) {
	if capacity < MinCapacity || capacity > MaxCapacity || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring %s: capacity %d must be a power of two in [%d, %d]", name, capacity, MinCapacity, MaxCapacity)
	}
	if uintptr(unsafe.Pointer(&region[0]))%8 != 0 {
		return nil, fmt.Errorf("ring %s: region is not 8 byte aligned", name)
	}
	return &RingBuffer{
		name:     name,
		buffer:   region,
		capacity: capacity,
		mask:     int64(capacity - 1),
		readOnly: readOnly,
	}, nil
}

func (rb *RingBuffer) Name() string {
	return rb.name
}

func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// Buffer is the whole region. Indexes returned by Claim and passed to
// handlers point into it.
func (rb *RingBuffer) Buffer() []byte {
	return rb.buffer
}

// MaxMessageLength is the largest message a single claim can carry. A
// record of at most half the capacity plus the padding before it always
// fits once the reader has caught up, wherever the tail stands.
func (rb *RingBuffer) MaxMessageLength() int {
	return rb.capacity/2 - RecordHeaderLength
}

// Claim reserves space for a message of length bytes and returns the index
// of the message in Buffer. The record stays invisible to readers until
// Commit. It fails with types.ErrCapacityExceeded when the message can never
// fit and with types.ErrInsufficientSpace when the reader has not freed
// enough space yet.
func (rb *RingBuffer) Claim(typeID int32, length int) (int, error) {
	if rb.readOnly {
		return 0, fmt.Errorf("ring %s: read only", rb.name)
	}
	if typeID == PaddingTypeID {
		return 0, fmt.Errorf("ring %s: type id %d is reserved", rb.name, typeID)
	}
	if length < 0 {
		return 0, fmt.Errorf("ring %s: negative claim %d", rb.name, length)
	}
	if length > rb.MaxMessageLength() {
		return 0, errors.Wrapf(types.ErrCapacityExceeded, "ring %s: claim %d, max message %d", rb.name, length, rb.MaxMessageLength())
	}
	recordLength := length + RecordHeaderLength
	aligned := align(recordLength, RecordAlignment)

	head := atomic.LoadInt64(rb.int64Ptr(headOffset))
	tail := atomic.LoadInt64(rb.int64Ptr(tailOffset))
	free := rb.capacity - int(tail-head)
	if aligned > free {
		return 0, errors.Wrapf(types.ErrInsufficientSpace, "ring %s: claim %d, free %d", rb.name, length, free)
	}

	tailIndex := int(tail & rb.mask)
	toEnd := rb.capacity - tailIndex
	padding := 0
	if aligned > toEnd {
		if toEnd+aligned > free {
			return 0, errors.Wrapf(types.ErrInsufficientSpace, "ring %s: claim %d, %d free after wrap", rb.name, length, free-toEnd)
		}
		padding = toEnd
	}

	next := tail + int64(padding+aligned)
	atomic.StoreInt64(rb.int64Ptr(tailIntentOffset), next)

	if padding != 0 {
		record := HeaderLength + tailIndex
		rb.putInt32(record+typeFieldOffset, PaddingTypeID)
		atomic.StoreInt32(rb.int32Ptr(record+lengthFieldOffset), int32(padding))
		tailIndex = 0
	}

	record := HeaderLength + tailIndex
	rb.putInt32(record+typeFieldOffset, typeID)
	atomic.StoreInt32(rb.int32Ptr(record+lengthFieldOffset), -int32(recordLength))
	atomic.StoreInt64(rb.int64Ptr(tailOffset), next)

	return record + RecordHeaderLength, nil
}

// Commit publishes the record claimed at index.
func (rb *RingBuffer) Commit(index int) {
	record := index - RecordHeaderLength
	length := atomic.LoadInt32(rb.int32Ptr(record + lengthFieldOffset))
	if length >= 0 {
		types.Corrupted(rb.name, record, "commit of record with length %d", length)
	}
	atomic.StoreInt32(rb.int32Ptr(record+lengthFieldOffset), -length)
}

// Abort releases the record claimed at index; readers skip it.
func (rb *RingBuffer) Abort(index int) {
	record := index - RecordHeaderLength
	length := atomic.LoadInt32(rb.int32Ptr(record + lengthFieldOffset))
	if length >= 0 {
		types.Corrupted(rb.name, record, "abort of record with length %d", length)
	}
	rb.putInt32(record+typeFieldOffset, PaddingTypeID)
	atomic.StoreInt32(rb.int32Ptr(record+lengthFieldOffset), -length)
}

// Write claims, copies and commits src in one step.
func (rb *RingBuffer) Write(typeID int32, src []byte) error {
	index, err := rb.Claim(typeID, len(src))
	if err != nil {
		return err
	}
	copy(rb.buffer[index:], src)
	rb.Commit(index)
	return nil
}

// Read hands up to limit committed records to handler and returns how many
// were delivered. It stops early at a claimed but uncommitted record, so
// records are always delivered in claim order. Only the primary consumer
// may call Read.
func (rb *RingBuffer) Read(handler Handler, limit int) int {
	if rb.readOnly {
		return 0
	}
	head := atomic.LoadInt64(rb.int64Ptr(headOffset))
	tail := atomic.LoadInt64(rb.int64Ptr(tailOffset))
	if tail-head > int64(rb.capacity) || tail < head {
		types.Corrupted(rb.name, headOffset, "head %d tail %d", head, tail)
	}

	position := head
	defer func() {
		if position != head {
			atomic.StoreInt64(rb.int64Ptr(headOffset), position)
		}
	}()

	messages := 0
	for messages < limit && position < tail {
		index := int(position & rb.mask)
		record := HeaderLength + index
		length := atomic.LoadInt32(rb.int32Ptr(record + lengthFieldOffset))
		if length < 0 {
			break
		}
		rb.checkRecord(record, index, length)

		typeID := rb.getInt32(record + typeFieldOffset)
		position += int64(align(int(length), RecordAlignment))
		if typeID == PaddingTypeID {
			continue
		}

		handler(typeID, rb.buffer, record+RecordHeaderLength, int(length)-RecordHeaderLength)
		messages++
	}
	return messages
}

func (rb *RingBuffer) checkRecord(record int, index int, length int32) {
	if length < RecordHeaderLength || index+align(int(length), RecordAlignment) > rb.capacity {
		types.Corrupted(rb.name, record, "record length %d at index %d", length, index)
	}
}

// State reads the current positions.
func (rb *RingBuffer) State() State {
	state := State{
		Capacity: rb.capacity,
		Tail:     atomic.LoadInt64(rb.int64Ptr(tailOffset)),
		Head:     atomic.LoadInt64(rb.int64Ptr(headOffset)),
	}
	for slot := 0; slot < MaxSpies; slot++ {
		if v := atomic.LoadInt64(rb.int64Ptr(spyOffset + slot*CacheLine)); v != 0 {
			state.Spies = append(state.Spies, v-1)
		}
	}
	return state
}

func (rb *RingBuffer) int64Ptr(offset int) *int64 {
	return (*int64)(unsafe.Pointer(&rb.buffer[offset]))
}

func (rb *RingBuffer) int32Ptr(offset int) *int32 {
	return (*int32)(unsafe.Pointer(&rb.buffer[offset]))
}

func (rb *RingBuffer) getInt32(offset int) int32 {
	return atomic.LoadInt32(rb.int32Ptr(offset))
}

func (rb *RingBuffer) putInt32(offset int, v int32) {
	atomic.StoreInt32(rb.int32Ptr(offset), v)
}
