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
	"sort"

	"github.com/pkg/errors"
	mlog "mosn.io/pkg/log"

	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Manager owns the budgets of one worker. It is not safe for concurrent
// use; budgets move between workers only through Export and Import.
type Manager struct {
	name     string
	ceiling  int64
	policy   ExcessPolicy
	accounts []*account
	gens     []uint32
	free     []int
	byID     map[int64]*account
}

// NewManager creates budgets lazily with defaultCeiling.
func NewManager(name string, defaultCeiling int64, policy ExcessPolicy) *Manager {
	return &Manager{
		name:    name,
		ceiling: defaultCeiling,
		policy:  policy,
		byID:    make(map[int64]*account),
	}
}

// Acquire attaches to budgetID, creating it on first use.
func (m *Manager) Acquire(budgetID int64) Handle {
	if budgetID == types.NoBudgetID {
		return NoHandle
	}
	return m.acquire(budgetID).handle
}

func (m *Manager) acquire(budgetID int64) *account {
	a, ok := m.byID[budgetID]
	if !ok {
		a = m.add(&account{budgetID: budgetID, ceiling: m.ceiling})
	}
	a.refs++
	return a
}

// Lookup finds the handle of budgetID without attaching to it.
func (m *Manager) Lookup(budgetID int64) (Handle, bool) {
	if a, ok := m.byID[budgetID]; ok {
		return a.handle, true
	}
	return NoHandle, false
}

// Release detaches from the budget. The last release of a child cleans it
// up; the last release of a parent happens when its last child leaves.
func (m *Manager) Release(h Handle) {
	a := m.get(h)
	if a == nil {
		return
	}
	a.refs--
	if a.refs > 0 {
		return
	}
	if a.parent != nil {
		m.cleanupChild(0, a)
		return
	}
	m.remove(a)
}

// SupplyChild attaches a new child budget under parentBudgetID, creating
// the parent on first use. Supplying an existing child attaches to it again.
func (m *Manager) SupplyChild(parentBudgetID int64, childBudgetID int64) (Handle, error) {
	if parentBudgetID == types.NoBudgetID || childBudgetID == types.NoBudgetID || parentBudgetID == childBudgetID {
		return NoHandle, errors.Wrapf(types.ErrUnknownBudget, "child %d of parent %d", childBudgetID, parentBudgetID)
	}
	if c, ok := m.byID[childBudgetID]; ok {
		if c.parent == nil || c.parent.budgetID != parentBudgetID {
			return NoHandle, errors.Errorf("budget %d is already attached elsewhere", childBudgetID)
		}
		c.refs++
		return c.handle, nil
	}
	if p, ok := m.byID[parentBudgetID]; ok && p.parent != nil {
		return NoHandle, errors.Errorf("budget %d is a child and cannot have children", parentBudgetID)
	}

	parent := m.acquire(parentBudgetID)
	child := m.add(&account{budgetID: childBudgetID, parent: parent, refs: 1})
	parent.children = append(parent.children, child)
	return child.handle, nil
}

// CleanupChild detaches a child regardless of its references. Its
// outstanding credit returns to the parent and its excess is dropped.
func (m *Manager) CleanupChild(h Handle) {
	if a := m.get(h); a != nil && a.parent != nil {
		m.cleanupChild(0, a)
	}
}

func (m *Manager) cleanupChild(traceID int64, c *account) {
	p := c.parent
	p.childOut -= c.own()
	for i, sibling := range p.children {
		if sibling == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	c.parent = nil
	m.remove(c)

	m.drain(traceID, p)

	p.refs--
	if p.refs <= 0 {
		m.remove(p)
	}
}

// Credit grants up to amount, clamped to the headroom under the ceiling,
// and returns what was granted. For a child the rest becomes excess, unless
// the excess policy rejects the whole call with types.ErrBudgetExceeded.
func (m *Manager) Credit(traceID int64, h Handle, amount int64) (int64, error) {
	a := m.get(h)
	if a == nil {
		return 0, errors.Wrapf(types.ErrUnknownBudget, "credit handle %d", h)
	}
	if amount <= 0 {
		return 0, nil
	}

	grant := amount
	if headroom := a.headroom(); grant > headroom {
		grant = headroom
	}

	if a.parent != nil {
		if excess := amount - grant; excess > 0 {
			if err := m.checkExcess(traceID, a, excess); err != nil {
				return 0, err
			}
			a.excess += excess
		}
		a.requested += amount
		a.granted += grant
	}

	a.adjust(grant, 0)

	if log.DefaultLogger.GetLogLevel() >= mlog.DEBUG {
		log.DefaultLogger.Debugf("[budget] [%s] [%x] credit %d budget %d granted %d outstanding %d",
			m.name, traceID, amount, a.budgetID, grant, a.outstanding())
	}

	if grant > 0 {
		m.flush(traceID, a)
	}
	return grant, nil
}

func (m *Manager) checkExcess(traceID int64, a *account, excess int64) error {
	total := a.excess + excess
	if total <= m.policy.Limit {
		return nil
	}
	switch m.policy.Mode {
	case ExcessFail:
		return errors.Wrapf(types.ErrBudgetExceeded, "budget %d excess %d over limit %d", a.budgetID, total, m.policy.Limit)
	case ExcessWarn:
		log.DefaultLogger.Alertf(types.ErrorKeyBudget, "[budget] [%s] [%x] budget %d excess %d over limit %d",
			m.name, traceID, a.budgetID, total, m.policy.Limit)
	}
	return nil
}

// Claim reserves credit for DATA about to be sent: maximum when available,
// otherwise whatever remains if that is at least minimum, otherwise zero.
// A short claim arms the budget watchers and records deferred as the bytes
// the caller is holding back until the next flush.
func (m *Manager) Claim(h Handle, minimum int, maximum int, deferred int) int {
	a := m.get(h)
	if a == nil || maximum <= 0 {
		return 0
	}
	if minimum < 0 {
		minimum = 0
	}
	if minimum > maximum {
		minimum = maximum
	}

	claimed := int64(maximum)
	if a.remaining < claimed {
		if a.remaining > 0 && a.remaining >= int64(minimum) {
			claimed = a.remaining
		} else {
			claimed = 0
		}
	}
	if claimed > 0 {
		a.adjust(-claimed, claimed)
	}
	if claimed < int64(maximum) {
		a.armed = true
		a.deferred += int64(deferred)
	}
	return int(claimed)
}

// Acknowledge returns claimed credit the receiver has consumed, lowering
// the outstanding total. It returns the amount actually acknowledged.
func (m *Manager) Acknowledge(traceID int64, h Handle, amount int64) int64 {
	a := m.get(h)
	if a == nil || amount <= 0 {
		return 0
	}
	if amount > a.inflight {
		amount = a.inflight
	}
	a.adjust(0, -amount)
	m.drain(traceID, a.pool())
	return amount
}

// Raise increases the ceiling of the pool the budget draws from.
func (m *Manager) Raise(traceID int64, h Handle, delta int64) {
	a := m.get(h)
	if a == nil || delta <= 0 {
		return
	}
	p := a.pool()
	p.ceiling += delta
	m.drain(traceID, p)
}

// SetCeiling replaces the ceiling of the pool; it cannot drop below the
// credit already outstanding.
func (m *Manager) SetCeiling(traceID int64, h Handle, ceiling int64) error {
	a := m.get(h)
	if a == nil {
		return errors.Wrapf(types.ErrUnknownBudget, "ceiling handle %d", h)
	}
	p := a.pool()
	if ceiling < p.outstanding() {
		return errors.Wrapf(types.ErrBudgetExceeded, "budget %d ceiling %d below outstanding %d", p.budgetID, ceiling, p.outstanding())
	}
	p.ceiling = ceiling
	m.drain(traceID, p)
	return nil
}

// drain grants child excess, in attach order, out of the parent headroom.
func (m *Manager) drain(traceID int64, p *account) {
	headroom := p.ceiling - p.outstanding()
	for _, c := range p.children {
		if headroom <= 0 {
			return
		}
		if c.excess <= 0 {
			c.excess = 0
			continue
		}
		d := c.excess
		if d > headroom {
			d = headroom
		}
		c.excess -= d
		c.granted += d
		c.adjust(d, 0)
		headroom -= d
		m.flush(traceID, c)
	}
}

// Watch registers flusher to be called when the budget gains credit after
// a short claim. Watching again with the same id replaces the flusher.
func (m *Manager) Watch(h Handle, watcherID int64, flusher Flusher) {
	a := m.get(h)
	if a == nil {
		return
	}
	for i := range a.watchers {
		if a.watchers[i].id == watcherID {
			a.watchers[i].flusher = flusher
			return
		}
	}
	a.watchers = append(a.watchers, watcher{id: watcherID, flusher: flusher})
}

func (m *Manager) Unwatch(h Handle, watcherID int64) {
	a := m.get(h)
	if a == nil {
		return
	}
	for i := range a.watchers {
		if a.watchers[i].id == watcherID {
			a.watchers = append(a.watchers[:i], a.watchers[i+1:]...)
			return
		}
	}
}

func (m *Manager) flush(traceID int64, a *account) {
	if !a.armed || len(a.watchers) == 0 {
		return
	}
	a.armed = false
	a.deferred = 0
	watchers := make([]watcher, len(a.watchers))
	copy(watchers, a.watchers)
	for _, w := range watchers {
		w.flusher(traceID)
	}
}

// Available is the headroom left under the ceiling.
func (m *Manager) Available(h Handle) int64 {
	if a := m.get(h); a != nil {
		return a.headroom()
	}
	return 0
}

// Remaining is the credit that can still be claimed.
func (m *Manager) Remaining(h Handle) int64 {
	if a := m.get(h); a != nil {
		return a.remaining
	}
	return 0
}

// Outstanding is remaining plus inflight; for a parent it includes every child.
func (m *Manager) Outstanding(h Handle) int64 {
	if a := m.get(h); a != nil {
		return a.stats().Outstanding
	}
	return 0
}

// Excess is the credit a child asked for that is still waiting for headroom.
func (m *Manager) Excess(h Handle) int64 {
	if a := m.get(h); a != nil {
		return a.excess
	}
	return 0
}

func (m *Manager) Stats(h Handle) (Stats, bool) {
	if a := m.get(h); a != nil {
		return a.stats(), true
	}
	return Stats{}, false
}

// Snapshot lists every budget ordered by id.
func (m *Manager) Snapshot() []Stats {
	snapshot := make([]Stats, 0, len(m.byID))
	for _, a := range m.byID {
		snapshot = append(snapshot, a.stats())
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].BudgetID < snapshot[j].BudgetID
	})
	return snapshot
}

// Acquired is the number of live budgets.
func (m *Manager) Acquired() int {
	return len(m.byID)
}

func (m *Manager) get(h Handle) *account {
	if h < 0 {
		return nil
	}
	slot := h.slot()
	if slot >= len(m.accounts) {
		return nil
	}
	a := m.accounts[slot]
	if a == nil || a.handle != h {
		return nil
	}
	return a
}

func (m *Manager) add(a *account) *account {
	var slot int
	if n := len(m.free); n > 0 {
		slot = m.free[n-1]
		m.free = m.free[:n-1]
		m.accounts[slot] = a
	} else {
		slot = len(m.accounts)
		m.accounts = append(m.accounts, a)
		m.gens = append(m.gens, 0)
	}
	a.handle = makeHandle(slot, m.gens[slot])
	m.byID[a.budgetID] = a
	return a
}

// remove frees the slot and bumps its generation, so every handle still
// naming a removed account stops resolving.
func (m *Manager) remove(a *account) {
	if m.get(a.handle) != a {
		return
	}
	slot := a.handle.slot()
	m.accounts[slot] = nil
	m.gens[slot]++
	m.free = append(m.free, slot)
	delete(m.byID, a.budgetID)
}
