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

package shm

import (
	"errors"
	"sync"
)

// CacheLine is the alignment of every block handed out by a span.
const CacheLine = 128

var errNotEnough = errors.New("not enough space")

// ShmSpan is one mapped region carved into cache line aligned blocks.
// Heap spans behave the same and back single process engines.
type ShmSpan struct {
	sync.Mutex

	name     string
	path     string
	origin   []byte
	offset   int
	mapped   bool
	readOnly bool
}

func NewShmSpan(name string, data []byte) *ShmSpan {
	return &ShmSpan{
		name:   name,
		origin: data,
	}
}

// NewHeapSpan backs a span with ordinary memory.
func NewHeapSpan(name string, size int) *ShmSpan {
	return NewShmSpan(name, make([]byte, size))
}

func (s *ShmSpan) Name() string {
	return s.name
}

func (s *ShmSpan) Origin() []byte {
	return s.origin
}

func (s *ShmSpan) Size() int {
	return len(s.origin)
}

func (s *ShmSpan) ReadOnly() bool {
	return s.readOnly
}

// Alloc reserves the next size bytes, rounded up to a cache line.
func (s *ShmSpan) Alloc(size int) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	aligned := (size + CacheLine - 1) &^ (CacheLine - 1)
	if size <= 0 || s.offset+aligned > len(s.origin) {
		return nil, errNotEnough
	}

	block := s.origin[s.offset : s.offset+size : s.offset+size]
	s.offset += aligned
	return block, nil
}

// Slice returns a block at a known offset, used when attaching to a region
// whose layout was laid out by another process.
func (s *ShmSpan) Slice(offset int, size int) ([]byte, error) {
	if offset < 0 || size <= 0 || offset+size > len(s.origin) {
		return nil, errNotEnough
	}
	return s.origin[offset : offset+size : offset+size], nil
}
