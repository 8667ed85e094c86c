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
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklivity/zilla-sub038/pkg/shm"
)

func TestEntryLayout(t *testing.T) {
	assert.Equal(t, shm.CacheLine, entrySize)
	assert.Equal(t, shm.CacheLine, metadataSize)
}

func TestZoneAlloc(t *testing.T) {
	zone, err := NewZone(shm.NewHeapSpan("test", 10*shm.CacheLine))
	require.NoError(t, err)
	assert.Equal(t, 9, zone.Capacity())

	for i := 0; i < zone.Capacity(); i++ {
		c, err := zone.Counter(int64(i%3), "entry"+strconv.Itoa(i))
		require.NoError(t, err)
		c.Inc(int64(i + 1))
	}
	_, err = zone.Counter(0, "overflow")
	assert.Equal(t, ErrZoneFull, errors.Cause(err))

	// same scope and name share the entry
	c, err := zone.Counter(0, "entry0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count())
	c.Dec(1)
	value, ok := zone.Value(0, "entry0")
	assert.True(t, ok)
	assert.Equal(t, int64(0), value)

	_, ok = zone.Value(1, "entry0")
	assert.False(t, ok)

	_, err = zone.Counter(0, "")
	assert.Error(t, err)
}

func TestZoneScopesAreDistinct(t *testing.T) {
	zone, err := NewZone(shm.NewHeapSpan("test", 4*shm.CacheLine))
	require.NoError(t, err)

	a, err := zone.Counter(1, "frames")
	require.NoError(t, err)
	b, err := zone.Counter(2, "frames")
	require.NoError(t, err)
	a.Inc(5)
	b.Inc(7)

	var seen []int64
	zone.Range(func(scope int64, metricID int32, name string, value int64) bool {
		assert.Equal(t, "frames", name)
		assert.Equal(t, MetricID("frames"), metricID)
		seen = append(seen, scope*100+value)
		return true
	})
	assert.Equal(t, []int64{105, 207}, seen)
	assert.Equal(t, int64(5), a.Snapshot().Count())
}

func TestAttachZoneSharesCounters(t *testing.T) {
	dir := t.TempDir()
	span, err := shm.Alloc(dir, "metrics", 8*shm.CacheLine)
	require.NoError(t, err)
	defer shm.Free(span)

	zone, err := NewZone(span)
	require.NoError(t, err)
	c, err := zone.Counter(3, "bytes")
	require.NoError(t, err)
	c.Inc(42)

	view, err := shm.Attach(dir, "metrics")
	require.NoError(t, err)
	defer shm.DeAlloc(view)

	attached, err := AttachZone(view)
	require.NoError(t, err)
	value, ok := attached.Value(3, "bytes")
	assert.True(t, ok)
	assert.Equal(t, int64(42), value)

	c.Inc(1)
	value, _ = attached.Value(3, "bytes")
	assert.Equal(t, int64(43), value)

	_, err = attached.Counter(3, "other")
	assert.Error(t, err)
}

func TestAttachZoneRejectsGarbage(t *testing.T) {
	_, err := AttachZone(shm.NewHeapSpan("garbage", 4*shm.CacheLine))
	assert.Error(t, err)
}
