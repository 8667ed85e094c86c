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

// Region layout. The header occupies HeaderLength bytes at the start of the
// region, one cache line per field, and the circular data area follows.
//
//	line 0  magic:i32 capacity:i32
//	line 1  tail position:i64   (bytes ever claimed, padding included)
//	        tail intent:i64     (tail a pending claim will publish)
//	line 2  primary reader position:i64
//	line 3+ spy reader slots:i64 (position+1, zero when free)
const (
	CacheLine    = 128
	HeaderLength = 1024

	magicOffset      = 0
	capacityOffset   = 4
	tailOffset       = CacheLine
	tailIntentOffset = CacheLine + 8
	headOffset       = 2 * CacheLine
	spyOffset        = 3 * CacheLine

	// MaxSpies is the number of spy readers that can publish a position.
	MaxSpies = (HeaderLength - spyOffset) / CacheLine

	magic int32 = 0x5a52_4231
)

// Record layout: an 8 byte header {length:i32, typeId:i32} followed by the
// message. Records start on RecordAlignment boundaries. A negative length
// marks a record that is claimed but not committed yet.
const (
	RecordHeaderLength = 8
	RecordAlignment    = 8

	lengthFieldOffset = 0
	typeFieldOffset   = 4

	// PaddingTypeID fills the gap left at the end of the data area when a
	// claim wraps. Readers skip it.
	PaddingTypeID int32 = -1

	MinCapacity = 64
	MaxCapacity = 1 << 30
)

func align(value int, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// RegionSize is the size of a region with the given data capacity.
func RegionSize(capacity int) int {
	return HeaderLength + capacity
}
