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
	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Octets is a view of a length-prefixed byte field inside a frame. The
// view is valid only while the underlying buffer region is.
type Octets struct {
	buffer []byte
	offset int
	length int
	sizeof int
}

// IsNull reports whether the field carried the null marker.
func (o Octets) IsNull() bool {
	return o.length < 0
}

// Len is the payload length, zero when null.
func (o Octets) Len() int {
	if o.length < 0 {
		return 0
	}
	return o.length
}

// Sizeof is the encoded size including the length prefix.
func (o Octets) Sizeof() int {
	return o.sizeof
}

// Bytes returns the field without copying, or nil when null.
func (o Octets) Bytes() []byte {
	if o.length < 0 {
		return nil
	}
	end := o.offset + o.length
	return o.buffer[o.offset:end:end]
}

// Clone copies the field out of the underlying buffer.
func (o Octets) Clone() []byte {
	if o.length < 0 {
		return nil
	}
	b := make([]byte, o.length)
	copy(b, o.Bytes())
	return b
}

func wrapOctets(buffer []byte, offset int, limit int) (Octets, error) {
	length, n, err := Varint(buffer, offset, limit)
	if err != nil {
		return Octets{}, err
	}
	if length < -1 {
		return Octets{}, errors.Wrapf(types.ErrMalformedFrame, "octets at %d: length %d", offset, length)
	}
	start := offset + n
	if length > int64(limit-start) {
		return Octets{}, errors.Wrapf(types.ErrMalformedFrame, "octets at %d: length %d exceeds limit %d", offset, length, limit)
	}
	size := n
	if length > 0 {
		size += int(length)
	}
	return Octets{
		buffer: buffer,
		offset: start,
		length: int(length),
		sizeof: size,
	}, nil
}

// sizeofOctets is the encoded size of b, nil encoding as the null marker.
func sizeofOctets(b []byte) int {
	if b == nil {
		return SizeofVarint(-1)
	}
	return SizeofVarint(int64(len(b))) + len(b)
}
