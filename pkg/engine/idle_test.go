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

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffIdle(t *testing.T) {
	idle := NewBackoffIdle(2, 1, time.Millisecond, 3*time.Millisecond)
	yields := 0
	var parks []time.Duration
	idle.yield = func() { yields++ }
	idle.sleep = func(d time.Duration) { parks = append(parks, d) }

	for i := 0; i < 6; i++ {
		idle.Idle(0)
	}
	assert.Equal(t, 1, yields)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, parks)

	idle.Idle(1)
	parks = parks[:0]
	for i := 0; i < 4; i++ {
		idle.Idle(0)
	}
	assert.Equal(t, 2, yields)
	assert.Equal(t, []time.Duration{time.Millisecond}, parks)
}
