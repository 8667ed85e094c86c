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

// cursor owns write progress into a caller provided slice. The first
// failure sticks and every later put is a no-op.
type cursor struct {
	buffer []byte
	pos    int
	limit  int
	err    error
}

func (c *cursor) reserve(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > c.limit {
		c.err = errors.Wrapf(types.ErrInsufficientSpace, "encode: %d bytes at %d past limit %d", n, c.pos, c.limit)
		return false
	}
	return true
}

func (c *cursor) putInt8(v uint8) {
	if c.reserve(1) {
		c.buffer[c.pos] = v
		c.pos++
	}
}

func (c *cursor) putInt32(v int32) {
	if c.reserve(4) {
		le.PutUint32(c.buffer[c.pos:], uint32(v))
		c.pos += 4
	}
}

func (c *cursor) putInt64(v int64) {
	if c.reserve(8) {
		le.PutUint64(c.buffer[c.pos:], uint64(v))
		c.pos += 8
	}
}

func (c *cursor) putOctets(b []byte) {
	length := int64(-1)
	if b != nil {
		length = int64(len(b))
	}
	if !c.reserve(SizeofVarint(length) + len(b)) {
		return
	}
	c.pos += PutVarint(c.buffer, c.pos, length)
	c.pos += copy(c.buffer[c.pos:], b)
}

func (c *cursor) putHeader(h *Header) {
	c.putInt64(h.StreamID)
	c.putInt64(h.Sequence)
	c.putInt64(h.Acknowledge)
	c.putInt32(h.Maximum)
	c.putInt64(h.TraceID)
	c.putInt64(h.Authorization)
	c.putInt64(h.BudgetID)
}

func (c *cursor) finish(offset int) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.pos - offset, nil
}
