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

// Package budget tracks send credit per worker.
//
// A budget has a ceiling, credit that may still be claimed (remaining) and
// credit that was claimed for DATA already sent but not yet acknowledged by
// the receiver (inflight). Outstanding credit, remaining plus inflight, never
// exceeds the ceiling.
//
// A merged budget is a parent whose ceiling bounds the outstanding credit of
// all attached children together. Credit a child asks for beyond the parent
// headroom is kept as excess on the child and granted, in attach order, as
// soon as headroom returns.
package budget

import (
	"fmt"
	"strings"
)

// Handle addresses an account slot of one Manager. The upper half carries
// the slot generation so a handle left over from a removed account never
// resolves to the account that reuses its slot.
type Handle int64

const slotBits = 32

func (h Handle) slot() int {
	return int(h & (1<<slotBits - 1))
}

func makeHandle(slot int, generation uint32) Handle {
	return Handle(int64(generation&(1<<31-1))<<slotBits | int64(slot))
}

// NoHandle is returned when no budget could be attached.
const NoHandle Handle = -1

// Flusher is called when a budget a watcher waited on gained credit.
type Flusher func(traceID int64)

// ExcessMode decides what happens when a child keeps asking for credit the
// parent cannot grant.
type ExcessMode int

const (
	// ExcessAbsorb keeps any amount of excess silently.
	ExcessAbsorb ExcessMode = iota
	// ExcessWarn keeps the excess and logs once it passes the limit.
	ExcessWarn
	// ExcessFail rejects a credit that would push excess past the limit.
	ExcessFail
)

func (m ExcessMode) String() string {
	switch m {
	case ExcessWarn:
		return "warn"
	case ExcessFail:
		return "fail"
	}
	return "absorb"
}

// ParseExcessMode accepts absorb, warn and fail.
func ParseExcessMode(mode string) (ExcessMode, error) {
	switch strings.ToLower(mode) {
	case "", "absorb":
		return ExcessAbsorb, nil
	case "warn":
		return ExcessWarn, nil
	case "fail":
		return ExcessFail, nil
	}
	return ExcessAbsorb, fmt.Errorf("unknown excess mode %q", mode)
}

type ExcessPolicy struct {
	Mode  ExcessMode
	Limit int64
}

// Stats is a snapshot of one budget.
type Stats struct {
	BudgetID    int64
	Ceiling     int64
	Remaining   int64
	Inflight    int64
	Outstanding int64
	Available   int64
	Deferred    int64
	Refs        int
	Parent      int64
	Children    int

	// child lifetime totals; Granted + Excess == Requested
	Requested int64
	Granted   int64
	Excess    int64
}

type watcher struct {
	id      int64
	flusher Flusher
}

type account struct {
	handle   Handle
	budgetID int64
	ceiling  int64

	remaining int64
	inflight  int64
	refs      int

	// parent side
	children []*account
	childOut int64

	// child side
	parent    *account
	excess    int64
	requested int64
	granted   int64

	watchers []watcher
	armed    bool
	deferred int64
}

func (a *account) own() int64 {
	return a.remaining + a.inflight
}

// outstanding covers the account and, for a parent, every child.
func (a *account) outstanding() int64 {
	return a.own() + a.childOut
}

// pool is the account whose ceiling bounds this one.
func (a *account) pool() *account {
	if a.parent != nil {
		return a.parent
	}
	return a
}

func (a *account) headroom() int64 {
	p := a.pool()
	h := p.ceiling - p.outstanding()
	if h < 0 {
		return 0
	}
	return h
}

// adjust changes remaining and inflight and keeps the parent aggregate in step.
func (a *account) adjust(remaining int64, inflight int64) {
	a.remaining += remaining
	a.inflight += inflight
	if a.parent != nil {
		a.parent.childOut += remaining + inflight
	}
}

func (a *account) stats() Stats {
	s := Stats{
		BudgetID:    a.budgetID,
		Ceiling:     a.pool().ceiling,
		Remaining:   a.remaining,
		Inflight:    a.inflight,
		Outstanding: a.outstanding(),
		Available:   a.headroom(),
		Deferred:    a.deferred,
		Refs:        a.refs,
		Children:    len(a.children),
		Requested:   a.requested,
		Granted:     a.granted,
		Excess:      a.excess,
	}
	if a.parent != nil {
		s.Parent = a.parent.budgetID
		s.Outstanding = a.own()
	}
	return s
}
