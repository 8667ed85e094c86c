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

// Package id packs the 64 bit identifiers used on the hot path.
//
// A namespaced id carries a namespace label in the high 32 bits and a local
// label in the low 32 bits. Stream, budget and trace ids are supplied per
// worker: the owning worker index sits in the top byte, stream ids also carry
// the index of the worker on the other end in bits 48..55 and use the low bit
// to tell the initial flow (odd) from the reply flow (even).
package id

const (
	shiftSize    = 56
	reservedSize = 33
	remoteShift  = 48

	remoteMask  int64 = 0x00ff_0000_0000_0000
	counterMask int64 = ^int64(0x00ff_ffff_8000_0000)
	initialBit  int64 = 0x1
)

// NamespacedID packs a namespace and a local id.
func NamespacedID(namespace int32, local int32) int64 {
	return int64(namespace)<<32 | int64(uint32(local))
}

// Namespace returns the high 32 bits of a namespaced id.
func Namespace(namespacedID int64) int32 {
	return int32(namespacedID >> 32)
}

// Local returns the low 32 bits of a namespaced id.
func Local(namespacedID int64) int32 {
	return int32(namespacedID)
}

func IsInitial(streamID int64) bool {
	return streamID&initialBit != 0
}

// ReplyID returns the reply flow paired with initialID.
func ReplyID(initialID int64) int64 {
	return initialID &^ initialBit
}

// InitialID returns the initial flow paired with replyID.
func InitialID(replyID int64) int64 {
	return replyID | initialBit
}

// Paired returns the flow in the other direction of the same stream.
func Paired(streamID int64) int64 {
	return streamID ^ initialBit
}

// RemoteIndex is the worker on the other end of the stream.
func RemoteIndex(streamID int64) int {
	return int((streamID & remoteMask) >> remoteShift)
}

// LocalIndex is the worker that supplied the id.
func LocalIndex(suppliedID int64) int {
	return int(uint64(suppliedID) >> shiftSize)
}

// Supplier hands out ids unique to one worker. It is not safe for
// concurrent use; each worker owns one.
type Supplier struct {
	mask      int64
	initialID int64
	budgetID  int64
	traceID   int64
}

func NewSupplier(index int) *Supplier {
	initial := int64(index) << shiftSize
	return &Supplier{
		mask:      initial | (1<<(64-reservedSize) - 1),
		initialID: initial,
		budgetID:  initial,
		traceID:   initial,
	}
}

// InitialID supplies the next odd stream id for a stream whose far end
// is handled by worker remoteIndex.
func (s *Supplier) InitialID(remoteIndex int) int64 {
	s.initialID += 2
	s.initialID &= s.mask

	return (int64(remoteIndex)<<remoteShift)&remoteMask |
		s.initialID&counterMask |
		initialBit
}

func (s *Supplier) BudgetID() int64 {
	s.budgetID++
	s.budgetID &= s.mask
	return s.budgetID
}

func (s *Supplier) TraceID() int64 {
	s.traceID++
	s.traceID &= s.mask
	return s.traceID
}
