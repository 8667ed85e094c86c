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

package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// MaxVarintLen is the widest encoding of a 64 bit signed varint.
const MaxVarintLen = binary.MaxVarintLen64

// SizeofVarint returns the number of bytes PutVarint writes for v.
func SizeofVarint(v int64) int {
	ux := uint64(v) << 1
	if v < 0 {
		ux = ^ux
	}
	n := 1
	for ux >= 0x80 {
		ux >>= 7
		n++
	}
	return n
}

// PutVarint writes v zig-zag encoded at buffer[offset:] and returns the
// number of bytes written.
func PutVarint(buffer []byte, offset int, v int64) int {
	return binary.PutVarint(buffer[offset:], v)
}

// Varint reads a zig-zag encoded value from buffer[offset:limit].
func Varint(buffer []byte, offset int, limit int) (int64, int, error) {
	if offset >= limit {
		return 0, 0, errors.Wrapf(types.ErrMalformedFrame, "varint at %d: window empty", offset)
	}
	v, n := binary.Varint(buffer[offset:limit])
	switch {
	case n == 0:
		return 0, 0, errors.Wrapf(types.ErrMalformedFrame, "varint at %d: truncated", offset)
	case n < 0:
		return 0, 0, errors.Wrapf(types.ErrMalformedFrame, "varint at %d: overflows 64 bits", offset)
	}
	return v, n, nil
}
