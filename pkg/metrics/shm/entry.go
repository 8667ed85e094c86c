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
	"sync/atomic"
	"unsafe"
)

var entrySize = int(unsafe.Sizeof(metricsEntry{}))

const maxNameLength = 104

// metricsEntry is the memory layout of one counter record. Entries are one
// cache line wide so counters of different workers never share a line.
//
// This struct should never be instantiated.
type metricsEntry struct {
	value    int64               // 8
	scope    int64               // 8
	metricID int32               // 4
	nameLen  int32               // 4
	name     [maxNameLength]byte // 104
}

func (e *metricsEntry) assignName(name string) {
	n := copy(e.name[:], name)
	atomic.StoreInt32(&e.nameLen, int32(n))
}

func (e *metricsEntry) equalName(name string) bool {
	n := int(atomic.LoadInt32(&e.nameLen))
	return n == len(name) && string(e.name[:n]) == name
}

func (e *metricsEntry) nameString() string {
	n := int(atomic.LoadInt32(&e.nameLen))
	if n < 0 || n > maxNameLength {
		return ""
	}
	return string(e.name[:n])
}
