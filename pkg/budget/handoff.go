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
	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Account carries a budget, and for a parent all its children, from one
// manager to another. Watchers stay behind: they belong to flows of the
// exporting worker.
type Account struct {
	BudgetID  int64
	Ceiling   int64
	Remaining int64
	Inflight  int64
	Refs      int
	Children  []ChildAccount
}

type ChildAccount struct {
	BudgetID  int64
	Remaining int64
	Inflight  int64
	Refs      int
	Excess    int64
	Requested int64
	Granted   int64
}

// Export detaches a top level budget with its children and hands it over
// as a value. Handles to it become invalid in this manager.
func (m *Manager) Export(h Handle) (Account, error) {
	a := m.get(h)
	if a == nil {
		return Account{}, errors.Wrapf(types.ErrUnknownBudget, "export handle %d", h)
	}
	if a.parent != nil {
		return Account{}, errors.Errorf("budget %d is a child of %d, export the parent", a.budgetID, a.parent.budgetID)
	}

	exported := Account{
		BudgetID:  a.budgetID,
		Ceiling:   a.ceiling,
		Remaining: a.remaining,
		Inflight:  a.inflight,
		Refs:      a.refs,
	}
	for _, c := range a.children {
		exported.Children = append(exported.Children, ChildAccount{
			BudgetID:  c.budgetID,
			Remaining: c.remaining,
			Inflight:  c.inflight,
			Refs:      c.refs,
			Excess:    c.excess,
			Requested: c.requested,
			Granted:   c.granted,
		})
		m.remove(c)
	}
	m.remove(a)
	return exported, nil
}

// Import attaches an exported budget and returns its handle. Child handles
// are found with Lookup.
func (m *Manager) Import(exported Account) (Handle, error) {
	if _, ok := m.byID[exported.BudgetID]; ok {
		return NoHandle, errors.Errorf("budget %d already present", exported.BudgetID)
	}
	for _, c := range exported.Children {
		if _, ok := m.byID[c.BudgetID]; ok {
			return NoHandle, errors.Errorf("budget %d already present", c.BudgetID)
		}
	}

	parent := m.add(&account{
		budgetID:  exported.BudgetID,
		ceiling:   exported.Ceiling,
		remaining: exported.Remaining,
		inflight:  exported.Inflight,
		refs:      exported.Refs,
	})
	for _, c := range exported.Children {
		child := m.add(&account{
			budgetID:  c.BudgetID,
			parent:    parent,
			remaining: c.Remaining,
			inflight:  c.Inflight,
			refs:      c.Refs,
			excess:    c.Excess,
			requested: c.Requested,
			granted:   c.Granted,
		})
		parent.children = append(parent.children, child)
		parent.childOut += child.own()
	}
	return parent.handle, nil
}
