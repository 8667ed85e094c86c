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

package fan

import (
	"context"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/aklivity/zilla-sub038/pkg/binding/echo"
	"github.com/aklivity/zilla-sub038/pkg/config"
	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

type client struct {
	router *stream.Router
	kinds  []int32
	data   string
}

func (c *client) OnFrame(ctx context.Context, e *stream.Event) {
	switch e.Kind {
	case types.BeginTypeID:
		_ = c.router.Window(ctx, e.StreamID, 0, 1024, 0, types.NoBudgetID)
	case types.DataTypeID:
		c.data += string(e.Payload.Bytes())
	}
	if !id.IsInitial(e.StreamID) {
		c.kinds = append(c.kinds, e.Kind)
	}
}

func (c *client) OnError(ctx context.Context, streamID int64, err error) {}

func newEngine(t *testing.T) (*engine.Engine, int64) {
	cfg := &config.EngineConfig{
		Workers:      2,
		RingCapacity: 8 * datasize.KB,
		Bindings: []config.BindingConfig{
			{Namespace: "test", Name: "fan0", Type: Kind, Exit: "echo0", Affinity: []int{1}},
			{Namespace: "test", Name: "echo0", Type: "echo", Affinity: []int{1}},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	e, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	routedID, ok := e.RoutedID("test:fan0")
	require.True(t, ok)
	return e, routedID
}

func drain(e *engine.Engine) {
	for e.DoWork() != 0 {
	}
}

func open(t *testing.T, e *engine.Engine, routedID int64) (context.Context, int64, *client) {
	w := e.Worker(0)
	ctx := (&engine.BindingContext{RoutedID: id.NamespacedID(9, 1), Worker: w}).Context()
	c := &client{router: w.Router()}
	initialID, err := w.Router().OpenFlow(ctx, routedID, 0, c)
	require.NoError(t, err)
	require.NoError(t, w.Router().Send(ctx, initialID, types.BeginTypeID, nil, nil))
	return ctx, initialID, c
}

func TestFanMergesMembersAndCopiesReply(t *testing.T) {
	e, routedID := newEngine(t)
	router := e.Worker(0).Router()
	ctxA, a, clientA := open(t, e, routedID)
	ctxB, b, clientB := open(t, e, routedID)
	drain(e)

	fanout := 0
	for _, s := range e.Worker(1).Budgets().Snapshot() {
		if s.Children == 2 {
			fanout++
		}
	}
	assert.Equal(t, 1, fanout)

	require.NoError(t, router.Send(ctxA, a, types.DataTypeID, nil, []byte("a1")))
	require.NoError(t, router.Send(ctxB, b, types.DataTypeID, nil, []byte("b2")))
	drain(e)

	assert.Equal(t, "a1b2", clientA.data)
	assert.Equal(t, "a1b2", clientB.data)
	f := router.Registry().Sender(a)
	require.NotNil(t, f)
	assert.EqualValues(t, 2, f.Acknowledge)

	require.NoError(t, router.Send(ctxA, a, types.EndTypeID, nil, nil))
	drain(e)
	assert.NotContains(t, clientA.kinds, types.EndTypeID)

	require.NoError(t, router.Send(ctxB, b, types.EndTypeID, nil, nil))
	drain(e)

	assert.Equal(t, []int32{types.BeginTypeID, types.DataTypeID, types.DataTypeID, types.EndTypeID}, clientA.kinds)
	assert.Equal(t, []int32{types.BeginTypeID, types.DataTypeID, types.DataTypeID, types.EndTypeID}, clientB.kinds)
	for _, w := range e.Workers() {
		assert.EqualValues(t, 0, w.Streams(), "worker %d", w.Index())
		assert.EqualValues(t, 0, w.HeldBudgets(), "worker %d", w.Index())
	}
}

func TestFanOpensNewGroupAfterClose(t *testing.T) {
	e, routedID := newEngine(t)
	router := e.Worker(0).Router()

	ctx, a, clientA := open(t, e, routedID)
	drain(e)
	require.NoError(t, router.Send(ctx, a, types.EndTypeID, nil, nil))
	drain(e)
	assert.Equal(t, []int32{types.BeginTypeID, types.EndTypeID}, clientA.kinds)

	ctx, b, clientB := open(t, e, routedID)
	drain(e)
	require.NoError(t, router.Send(ctx, b, types.DataTypeID, nil, []byte("again")))
	drain(e)
	assert.Equal(t, "again", clientB.data)
}

func TestFanNeedsExit(t *testing.T) {
	_, err := NewFactory(&engine.BindingContext{Config: &config.BindingConfig{Namespace: "test", Name: "fan0", Type: Kind}})
	assert.Error(t, err)
}
