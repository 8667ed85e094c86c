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

package context

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

const testNodeNum = 10

var randomTable [testNodeNum]types.ContextKey

func init() {
	for i := 0; i < testNodeNum; i++ {
		randomTable[i] = types.ContextKey(rand.Intn(int(types.ContextKeyEnd)))
	}
}

func TestSetGet(t *testing.T) {
	ctx := WithValue(context.Background(), types.ContextKeyWorkerIndex, 3)

	assert.Equal(t, 3, ctx.Value(types.ContextKeyWorkerIndex))
	assert.Equal(t, 3, Get(ctx, types.ContextKeyWorkerIndex))
	assert.Nil(t, Get(ctx, types.ContextKeyStreamID))
}

func TestWithValueReusesContext(t *testing.T) {
	ctx := WithValue(context.Background(), types.ContextKeyWorkerIndex, 1)
	next := WithValue(ctx, types.ContextKeyStreamID, int64(7))

	assert.True(t, ctx == next)
	assert.Equal(t, int64(7), Get(ctx, types.ContextKeyStreamID))
}

func TestClone(t *testing.T) {
	ctx := WithValue(context.Background(), types.ContextKeyWorkerIndex, 1)
	clone := Clone(ctx)
	WithValue(clone, types.ContextKeyWorkerIndex, 2)

	assert.Equal(t, 1, Get(ctx, types.ContextKeyWorkerIndex))
	assert.Equal(t, 2, Get(clone, types.ContextKeyWorkerIndex))

	plain := context.Background()
	assert.Equal(t, plain, Clone(plain))
}

func TestWithFrame(t *testing.T) {
	ctx := WithFrame(context.Background(), 9, 42)

	assert.Equal(t, int64(9), Get(ctx, types.ContextKeyStreamID))
	assert.Equal(t, int64(42), Get(ctx, types.ContextKeyTraceID))
}

func TestForeignKeys(t *testing.T) {
	type foreign string
	parent := context.WithValue(context.Background(), foreign("k"), "v")
	ctx := WithValue(parent, types.ContextKeyTraceID, int64(1))

	assert.Equal(t, "v", ctx.Value(foreign("k")))
}

func BenchmarkGet(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < testNodeNum; i++ {
		ctx = WithValue(ctx, randomTable[i], struct{}{})
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for i := 0; i < testNodeNum; i++ {
			Get(ctx, randomTable[i])
		}
	}
}
