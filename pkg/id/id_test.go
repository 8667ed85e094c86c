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

package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNamespacedID(t *testing.T) {
	nsid := NamespacedID(3, 7)
	assert.Equal(t, int64(0x0000000300000007), nsid)
	assert.Equal(t, int32(3), Namespace(nsid))
	assert.Equal(t, int32(7), Local(nsid))

	neg := NamespacedID(1, -1)
	assert.Equal(t, int32(1), Namespace(neg))
	assert.Equal(t, int32(-1), Local(neg))
}

func TestNamespacedIDOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ns := rapid.Int32Range(0, 1<<20).Draw(rt, "ns")
		a := rapid.Int32Range(0, 1<<30).Draw(rt, "a")
		b := rapid.Int32Range(0, 1<<30).Draw(rt, "b")

		if (a < b) != (NamespacedID(ns, a) < NamespacedID(ns, b)) {
			rt.Fatalf("ordering differs for %d %d", a, b)
		}
		if Namespace(NamespacedID(ns, a)) != ns || Local(NamespacedID(ns, a)) != a {
			rt.Fatalf("labels not preserved")
		}
	})
}

func TestSupplierStreamIDs(t *testing.T) {
	s := NewSupplier(2)

	initialID := s.InitialID(5)
	assert.True(t, IsInitial(initialID))
	assert.Equal(t, 5, RemoteIndex(initialID))
	assert.Equal(t, 2, LocalIndex(initialID))

	replyID := ReplyID(initialID)
	assert.False(t, IsInitial(replyID))
	assert.Equal(t, initialID, InitialID(replyID))
	assert.Equal(t, replyID, Paired(initialID))
	assert.Equal(t, initialID, Paired(replyID))
	assert.Equal(t, 5, RemoteIndex(replyID))

	next := s.InitialID(5)
	assert.Equal(t, initialID+2, next)
}

func TestSupplierWraps(t *testing.T) {
	s := NewSupplier(1)
	s.initialID = s.mask - 1

	wrapped := s.InitialID(0)
	assert.Equal(t, 1, LocalIndex(wrapped))
	assert.True(t, IsInitial(wrapped))
	assert.Equal(t, int64(1)<<shiftSize|1, wrapped)
}

func TestSupplierBudgetAndTrace(t *testing.T) {
	s := NewSupplier(3)

	b1, b2 := s.BudgetID(), s.BudgetID()
	assert.NotEqual(t, b1, b2)
	assert.Equal(t, 3, LocalIndex(b1))

	t1 := s.TraceID()
	assert.Equal(t, 3, LocalIndex(t1))
	assert.NotZero(t, t1)
}
