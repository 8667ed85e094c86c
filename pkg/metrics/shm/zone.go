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
	"hash/fnv"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/shm"
)

const zoneMagic uint32 = 0x5a4d4331

var (
	metadataSize = int(unsafe.Sizeof(metadata{}))

	ErrZoneFull = errors.New("metrics zone capacity not enough")
)

// metadata is the memory layout of the zone header.
//
// This struct should never be instantiated.
type metadata struct {
	magic uint32 // 4
	size  uint32 // 4
	used  uint32 // 4

	padding [116]byte
}

type entryKey struct {
	scope    int64
	metricID int32
}

// Zone is the in-heap handle on a counters region: a header line followed
// by fixed stride entries indexed by (scope, metric id). The scope is the
// namespaced id of the binding or worker owning the counter.
type Zone struct {
	*metadata
	entries []metricsEntry

	span *shm.ShmSpan

	mutex sync.Mutex
	index map[entryKey][]int
}

// NewZone lays out a zone over the whole span.
func NewZone(span *shm.ShmSpan) (*Zone, error) {
	header, err := span.Alloc(metadataSize)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics zone %s header", span.Name())
	}
	length := (span.Size() - metadataSize) / entrySize
	if length <= 0 {
		return nil, errors.Errorf("metrics zone %s: no room for entries", span.Name())
	}
	block, err := span.Alloc(length * entrySize)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics zone %s entries", span.Name())
	}

	z := &Zone{
		metadata: (*metadata)(unsafe.Pointer(&header[0])),
		entries:  unsafe.Slice((*metricsEntry)(unsafe.Pointer(&block[0])), length),
		span:     span,
		index:    make(map[entryKey][]int),
	}
	z.metadata.size = uint32(length)
	atomic.StoreUint32(&z.metadata.used, 0)
	atomic.StoreUint32(&z.metadata.magic, zoneMagic)
	return z, nil
}

// AttachZone reads a zone laid out by another process.
func AttachZone(span *shm.ShmSpan) (*Zone, error) {
	header, err := span.Slice(0, metadataSize)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics zone %s header", span.Name())
	}
	meta := (*metadata)(unsafe.Pointer(&header[0]))
	if magic := atomic.LoadUint32(&meta.magic); magic != zoneMagic {
		return nil, errors.Errorf("metrics zone %s: bad magic 0x%08x", span.Name(), magic)
	}
	length := int(meta.size)
	block, err := span.Slice(metadataSize, length*entrySize)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics zone %s: %d entries", span.Name(), length)
	}
	return &Zone{
		metadata: meta,
		entries:  unsafe.Slice((*metricsEntry)(unsafe.Pointer(&block[0])), length),
		span:     span,
		index:    make(map[entryKey][]int),
	}, nil
}

// MetricID is the id of a metric name within every scope.
func MetricID(name string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int32(h.Sum32())
}

// Counter returns the counter of name in scope, allocating its entry on
// first use.
func (z *Zone) Counter(scope int64, name string) (Counter, error) {
	entry, err := z.alloc(scope, name)
	if err != nil {
		return Counter{}, err
	}
	return Counter{value: &entry.value}, nil
}

func (z *Zone) alloc(scope int64, name string) (*metricsEntry, error) {
	if len(name) == 0 || len(name) > maxNameLength {
		return nil, errors.Errorf("metric name %q: length must be 1..%d", name, maxNameLength)
	}
	if z.span.ReadOnly() {
		return nil, errors.Errorf("metrics zone %s: read only", z.span.Name())
	}

	key := entryKey{scope: scope, metricID: MetricID(name)}

	z.mutex.Lock()
	defer z.mutex.Unlock()

	for _, i := range z.index[key] {
		if z.entries[i].equalName(name) {
			return &z.entries[i], nil
		}
	}

	used := atomic.LoadUint32(&z.metadata.used)
	if used >= z.metadata.size {
		return nil, errors.Wrapf(ErrZoneFull, "%d entries", z.metadata.size)
	}
	entry := &z.entries[used]
	entry.scope = scope
	entry.metricID = key.metricID
	atomic.StoreInt64(&entry.value, 0)
	entry.assignName(name)
	atomic.StoreUint32(&z.metadata.used, used+1)

	z.index[key] = append(z.index[key], int(used))
	return entry, nil
}

// Value reads a counter without allocating it.
func (z *Zone) Value(scope int64, name string) (int64, bool) {
	var value int64
	found := false
	metricID := MetricID(name)
	z.Range(func(s int64, id int32, n string, v int64) bool {
		if s == scope && id == metricID && n == name {
			value, found = v, true
			return false
		}
		return true
	})
	return value, found
}

// Range visits every allocated entry in allocation order until fn returns
// false.
func (z *Zone) Range(fn func(scope int64, metricID int32, name string, value int64) bool) {
	used := int(atomic.LoadUint32(&z.metadata.used))
	if used > len(z.entries) {
		used = len(z.entries)
	}
	for i := 0; i < used; i++ {
		e := &z.entries[i]
		if !fn(e.scope, e.metricID, e.nameString(), atomic.LoadInt64(&e.value)) {
			return
		}
	}
}

func (z *Zone) Used() int {
	return int(atomic.LoadUint32(&z.metadata.used))
}

func (z *Zone) Capacity() int {
	return len(z.entries)
}

func (z *Zone) Span() *shm.ShmSpan {
	return z.span
}
