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

package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

func TestAcquireIsLazyAndShared(t *testing.T) {
	m := NewManager("test", 1000, ExcessPolicy{})

	assert.Equal(t, NoHandle, m.Acquire(types.NoBudgetID))
	assert.Equal(t, 0, m.Acquired())

	h := m.Acquire(7)
	assert.Equal(t, h, m.Acquire(7))
	assert.Equal(t, 1, m.Acquired())

	stats, ok := m.Stats(h)
	require.True(t, ok)
	assert.Equal(t, int64(1000), stats.Ceiling)
	assert.Equal(t, 2, stats.Refs)

	m.Release(h)
	assert.Equal(t, 1, m.Acquired())
	m.Release(h)
	assert.Equal(t, 0, m.Acquired())

	_, ok = m.Lookup(7)
	assert.False(t, ok)
}

func TestSimpleBudgetScenario(t *testing.T) {
	m := NewManager("test", 1000, ExcessPolicy{})
	h := m.Acquire(7)

	granted, err := m.Credit(1, h, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), granted)

	assert.Equal(t, 400, m.Claim(h, 100, 500, 0))
	assert.Equal(t, 0, m.Claim(h, 1, 10, 0))

	assert.Equal(t, int64(400), m.Outstanding(h))
	assert.Equal(t, int64(600), m.Available(h))
	assert.Equal(t, int64(0), m.Remaining(h))
}

func TestCreditClampedToCeiling(t *testing.T) {
	m := NewManager("test", 1000, ExcessPolicy{})
	h := m.Acquire(7)

	granted, err := m.Credit(1, h, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), granted)

	granted, err = m.Credit(1, h, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), granted)

	assert.Equal(t, 600, m.Claim(h, 0, 600, 0))
	assert.Equal(t, int64(200), m.Acknowledge(1, h, 200))
	assert.Equal(t, int64(800), m.Outstanding(h))

	granted, err = m.Credit(1, h, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(200), granted)

	assert.Equal(t, int64(400), m.Acknowledge(1, h, 1000), "acknowledge is bounded by inflight")
}

func TestClaimBounds(t *testing.T) {
	m := NewManager("test", 1000, ExcessPolicy{})
	h := m.Acquire(7)
	_, err := m.Credit(1, h, 50)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Claim(h, 60, 100, 0), "below minimum")
	assert.Equal(t, 0, m.Claim(h, 0, 0, 0))
	assert.Equal(t, 0, m.Claim(NoHandle, 0, 10, 0))
	assert.Equal(t, 40, m.Claim(h, 200, 40, 0), "minimum above maximum is clamped")
	assert.Equal(t, 10, m.Claim(h, 0, 20, 0))
	assert.Equal(t, 0, m.Claim(h, 0, 10, 0))
}

func TestUnknownHandle(t *testing.T) {
	m := NewManager("test", 1000, ExcessPolicy{})

	_, err := m.Credit(1, Handle(3), 10)
	assert.True(t, types.Is(err, types.ErrUnknownBudget))
	assert.Error(t, m.SetCeiling(1, Handle(3), 10))
	assert.Equal(t, int64(0), m.Acknowledge(1, Handle(3), 10))
	m.Release(Handle(3))
	m.Raise(1, Handle(3), 10)
}

func TestMergedBudgetScenario(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})

	a, err := m.SupplyChild(1, 11)
	require.NoError(t, err)
	b, err := m.SupplyChild(1, 12)
	require.NoError(t, err)
	parent, ok := m.Lookup(1)
	require.True(t, ok)

	granted, err := m.Credit(1, a, 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), granted)

	granted, err = m.Credit(1, b, 80)
	require.NoError(t, err)
	assert.Equal(t, int64(20), granted)
	assert.Equal(t, int64(60), m.Excess(b))

	m.Raise(1, parent, 60)
	assert.Equal(t, int64(0), m.Excess(b))
	assert.Equal(t, int64(80), m.Outstanding(b))
	assert.Equal(t, int64(160), m.Outstanding(parent))

	stats, _ := m.Stats(b)
	assert.Equal(t, int64(80), stats.Requested)
	assert.Equal(t, int64(80), stats.Granted)
	assert.Equal(t, int64(1), stats.Parent)
	assert.Equal(t, int64(160), stats.Ceiling)
}

func TestExcessDrainsInAttachOrder(t *testing.T) {
	m := NewManager("test", 10, ExcessPolicy{})
	a, _ := m.SupplyChild(1, 11)
	b, _ := m.SupplyChild(1, 12)
	c, _ := m.SupplyChild(1, 13)

	m.Credit(1, a, 10)
	m.Credit(1, c, 5)
	m.Credit(1, b, 5)
	assert.Equal(t, int64(5), m.Excess(b))
	assert.Equal(t, int64(5), m.Excess(c))

	assert.Equal(t, 10, m.Claim(a, 0, 10, 0))
	m.Acknowledge(1, a, 7)

	assert.Equal(t, int64(0), m.Excess(b))
	assert.Equal(t, int64(3), m.Excess(c))
	assert.Equal(t, int64(5), m.Remaining(b))
	assert.Equal(t, int64(2), m.Remaining(c))
}

func TestCleanupChildReturnsHeadroom(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	a, _ := m.SupplyChild(1, 11)
	b, _ := m.SupplyChild(1, 12)

	m.Credit(1, a, 100)
	m.Credit(1, b, 30)
	assert.Equal(t, int64(30), m.Excess(b))

	m.CleanupChild(a)
	assert.Equal(t, int64(0), m.Excess(b))
	assert.Equal(t, int64(30), m.Outstanding(b))
	_, ok := m.Lookup(11)
	assert.False(t, ok)

	parent, ok := m.Lookup(1)
	require.True(t, ok)
	stats, _ := m.Stats(parent)
	assert.Equal(t, 1, stats.Children)

	m.Release(b)
	_, ok = m.Lookup(1)
	assert.False(t, ok, "last child releases the parent")
	assert.Equal(t, 0, m.Acquired())
}

func TestParentOutlivesChildrenWhileAcquired(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	parent := m.Acquire(1)
	child, err := m.SupplyChild(1, 11)
	require.NoError(t, err)

	again, err := m.SupplyChild(1, 11)
	require.NoError(t, err)
	assert.Equal(t, child, again)

	m.Release(child)
	_, ok := m.Lookup(11)
	assert.True(t, ok)
	m.Release(child)
	_, ok = m.Lookup(11)
	assert.False(t, ok)

	_, ok = m.Lookup(1)
	assert.True(t, ok)
	m.Release(parent)
	assert.Equal(t, 0, m.Acquired())
}

func TestSupplyChildRejectsNesting(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	_, err := m.SupplyChild(1, 11)
	require.NoError(t, err)

	_, err = m.SupplyChild(11, 21)
	assert.Error(t, err)
	_, err = m.SupplyChild(2, 11)
	assert.Error(t, err)
	_, err = m.SupplyChild(1, 1)
	assert.Error(t, err)
	_, err = m.SupplyChild(types.NoBudgetID, 5)
	assert.Error(t, err)
}

func TestExcessPolicyFail(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{Mode: ExcessFail, Limit: 50})
	a, _ := m.SupplyChild(1, 11)

	granted, err := m.Credit(1, a, 140)
	require.NoError(t, err)
	assert.Equal(t, int64(100), granted)

	_, err = m.Credit(1, a, 20)
	assert.True(t, types.Is(err, types.ErrBudgetExceeded))
	assert.True(t, types.IsRecoverable(err))

	stats, _ := m.Stats(a)
	assert.Equal(t, int64(40), stats.Excess, "rejected credit leaves state untouched")
	assert.Equal(t, int64(140), stats.Requested)
}

func TestExcessPolicyWarnKeepsExcess(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{Mode: ExcessWarn, Limit: 10})
	a, _ := m.SupplyChild(1, 11)

	_, err := m.Credit(1, a, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.Excess(a))
}

func TestParseExcessMode(t *testing.T) {
	for input, expected := range map[string]ExcessMode{"": ExcessAbsorb, "absorb": ExcessAbsorb, "WARN": ExcessWarn, "fail": ExcessFail} {
		mode, err := ParseExcessMode(input)
		require.NoError(t, err)
		assert.Equal(t, expected, mode)
	}
	_, err := ParseExcessMode("drop")
	assert.Error(t, err)
	assert.Equal(t, "fail", ExcessFail.String())
}

func TestSetCeiling(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	a, _ := m.SupplyChild(1, 11)
	m.Credit(1, a, 150)

	err := m.SetCeiling(1, a, 50)
	assert.True(t, types.Is(err, types.ErrBudgetExceeded))

	require.NoError(t, m.SetCeiling(1, a, 200))
	assert.Equal(t, int64(150), m.Outstanding(a))
	assert.Equal(t, int64(50), m.Available(a))
}

func TestWatchersFlushedOnCredit(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	h := m.Acquire(7)

	var flushed []int64
	m.Watch(h, 1, func(traceID int64) { flushed = append(flushed, traceID) })

	m.Credit(10, h, 5)
	assert.Empty(t, flushed, "not armed before a short claim")

	assert.Equal(t, 5, m.Claim(h, 0, 20, 15))
	stats, _ := m.Stats(h)
	assert.Equal(t, int64(15), stats.Deferred)

	m.Credit(11, h, 20)
	assert.Equal(t, []int64{11}, flushed)
	stats, _ = m.Stats(h)
	assert.Equal(t, int64(0), stats.Deferred)

	m.Credit(12, h, 20)
	assert.Equal(t, []int64{11}, flushed, "flushed once per short claim")

	m.Unwatch(h, 1)
	m.Claim(h, 0, 1000, 0)
	m.Credit(13, h, 1)
	assert.Equal(t, []int64{11}, flushed)
}

func TestWatchersFlushedOnDrain(t *testing.T) {
	m := NewManager("test", 10, ExcessPolicy{})
	a, _ := m.SupplyChild(1, 11)
	b, _ := m.SupplyChild(1, 12)
	m.Credit(1, a, 10)
	m.Credit(1, b, 10)

	flushes := 0
	m.Watch(b, 2, func(int64) {
		flushes++
		m.Claim(b, 0, 10, 0)
	})
	assert.Equal(t, 0, m.Claim(b, 1, 10, 0))

	m.Raise(3, a, 4)
	assert.Equal(t, 1, flushes)
	assert.Equal(t, int64(4), m.Outstanding(b))
	assert.Equal(t, int64(0), m.Remaining(b))
}

func TestExportImport(t *testing.T) {
	source := NewManager("w0", 100, ExcessPolicy{})
	target := NewManager("w1", 100, ExcessPolicy{})

	a, _ := source.SupplyChild(1, 11)
	b, _ := source.SupplyChild(1, 12)
	source.Credit(1, a, 70)
	source.Credit(1, b, 50)
	source.Claim(a, 0, 30, 0)

	_, err := source.Export(a)
	assert.Error(t, err)

	parent, _ := source.Lookup(1)
	exported, err := source.Export(parent)
	require.NoError(t, err)
	assert.Equal(t, 0, source.Acquired())
	require.Len(t, exported.Children, 2)

	h, err := target.Import(exported)
	require.NoError(t, err)
	assert.Equal(t, int64(100), target.Outstanding(h))

	tb, ok := target.Lookup(12)
	require.True(t, ok)
	assert.Equal(t, int64(20), target.Excess(tb))

	ta, _ := target.Lookup(11)
	target.Acknowledge(1, ta, 30)
	assert.Equal(t, int64(0), target.Excess(tb))
	assert.Equal(t, int64(50), target.Outstanding(tb))

	_, err = target.Import(exported)
	assert.Error(t, err)
}

func TestExportedHandleDoesNotResolveToReusedSlot(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	h := m.Acquire(10)
	_, err := m.Export(h)
	require.NoError(t, err)

	other := m.Acquire(20)
	m.Release(h)
	_, err = m.Credit(1, h, 10)
	assert.Error(t, err)

	_, ok := m.Lookup(20)
	assert.True(t, ok, "release through an exported handle leaves the new budget alone")
	granted, err := m.Credit(1, other, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), granted)
}

func TestCleanedChildHandleDoesNotResolveToReusedSlot(t *testing.T) {
	m := NewManager("test", 100, ExcessPolicy{})
	parent := m.Acquire(1)
	child, err := m.SupplyChild(1, 11)
	require.NoError(t, err)
	_, err = m.SupplyChild(1, 11)
	require.NoError(t, err)

	m.CleanupChild(child)
	other := m.Acquire(30)

	m.Release(child)
	m.Release(child)
	_, ok := m.Lookup(30)
	assert.True(t, ok)
	assert.Equal(t, int64(0), m.Outstanding(other))

	_, ok = m.Lookup(1)
	assert.True(t, ok, "parent keeps its own reference")
	m.Release(parent)
	_, ok = m.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Acquired())
}

func TestSimpleBudgetNeverExceedsCeiling(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ceiling := rapid.Int64Range(1, 10000).Draw(rt, "ceiling")
		m := NewManager("test", ceiling, ExcessPolicy{})
		h := m.Acquire(7)

		ops := rapid.IntRange(1, 100).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				before := m.Outstanding(h)
				amount := rapid.Int64Range(0, 5000).Draw(rt, "credit")
				granted, err := m.Credit(1, h, amount)
				require.NoError(rt, err)
				require.GreaterOrEqual(rt, granted, int64(0))
				require.LessOrEqual(rt, granted, amount)
				require.Equal(rt, before+granted, m.Outstanding(h))
			case 1:
				remaining := m.Remaining(h)
				maximum := rapid.IntRange(0, 5000).Draw(rt, "maximum")
				minimum := rapid.IntRange(0, maximum).Draw(rt, "minimum")
				claimed := m.Claim(h, minimum, maximum, 0)
				require.GreaterOrEqual(rt, claimed, 0)
				require.LessOrEqual(rt, int64(claimed), remaining)
				require.LessOrEqual(rt, claimed, maximum)
				if claimed > 0 {
					require.GreaterOrEqual(rt, claimed, minimum)
				}
			case 2:
				m.Acknowledge(1, h, rapid.Int64Range(0, 5000).Draw(rt, "ack"))
			case 3:
				m.Raise(1, h, rapid.Int64Range(0, 100).Draw(rt, "raise"))
			}
			stats, _ := m.Stats(h)
			require.LessOrEqual(rt, stats.Outstanding, stats.Ceiling)
			require.GreaterOrEqual(rt, stats.Remaining, int64(0))
			require.GreaterOrEqual(rt, stats.Inflight, int64(0))
		}
	})
}

func TestMergedBudgetConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ceiling := rapid.Int64Range(1, 1000).Draw(rt, "ceiling")
		m := NewManager("test", ceiling, ExcessPolicy{})

		children := rapid.IntRange(1, 5).Draw(rt, "children")
		handles := make([]Handle, children)
		for i := range handles {
			h, err := m.SupplyChild(1, int64(100+i))
			require.NoError(rt, err)
			handles[i] = h
		}
		parent, _ := m.Lookup(1)

		ops := rapid.IntRange(1, 100).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			h := handles[rapid.IntRange(0, children-1).Draw(rt, "child")]
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				_, err := m.Credit(1, h, rapid.Int64Range(0, 500).Draw(rt, "credit"))
				require.NoError(rt, err)
			case 1:
				m.Claim(h, 0, rapid.IntRange(0, 500).Draw(rt, "claim"), 0)
			case 2:
				m.Acknowledge(1, h, rapid.Int64Range(0, 500).Draw(rt, "ack"))
			case 3:
				m.Raise(1, parent, rapid.Int64Range(0, 100).Draw(rt, "raise"))
			}

			pstats, _ := m.Stats(parent)
			sum := int64(0)
			for _, h := range handles {
				cstats, _ := m.Stats(h)
				sum += cstats.Outstanding
				require.Equal(rt, cstats.Requested, cstats.Granted+cstats.Excess)
				require.GreaterOrEqual(rt, cstats.Excess, int64(0))
			}
			require.Equal(rt, pstats.Outstanding, sum)
			require.LessOrEqual(rt, sum, pstats.Ceiling)
		}
	})
}
