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

package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklivity/zilla-sub038/pkg/budget"
	dpctx "github.com/aklivity/zilla-sub038/pkg/context"
	"github.com/aklivity/zilla-sub038/pkg/frame"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/ringbuffer"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

var (
	clientBinding = id.NamespacedID(1, 2)
	serverRoute   = id.NamespacedID(1, 1)
)

// testPlane wires routers together over heap ring buffers; rings[i][j]
// carries frames from worker i to worker j.
type testPlane struct {
	rings   [][]*ringbuffer.RingBuffer
	routers []*Router
}

func newTestPlane(t *testing.T, workers int, ceiling int64) *testPlane {
	p := &testPlane{rings: make([][]*ringbuffer.RingBuffer, workers)}
	for i := range p.rings {
		p.rings[i] = make([]*ringbuffer.RingBuffer, workers)
		for j := range p.rings[i] {
			rb, err := ringbuffer.New(fmt.Sprintf("%d-%d", i, j), make([]byte, ringbuffer.RegionSize(4096)))
			require.NoError(t, err)
			p.rings[i][j] = rb
		}
	}
	for i := 0; i < workers; i++ {
		i := i
		targets := func(j int) (Target, error) {
			if j < 0 || j >= workers {
				return nil, errors.Wrapf(types.ErrWorkerNotAvailable, "worker %d", j)
			}
			return p.rings[i][j], nil
		}
		budgets := budget.NewManager(fmt.Sprintf("worker-%d", i), ceiling, budget.ExcessPolicy{})
		r := NewRouter(context.Background(), i, budgets, targets)
		r.SetResolver(func(routedID int64) int {
			return int(id.Local(routedID)) % workers
		})
		p.routers = append(p.routers, r)
	}
	return p
}

// pump delivers frames until every ring is empty.
func (p *testPlane) pump() int {
	total := 0
	for {
		n := 0
		for i, r := range p.routers {
			for j := range p.rings {
				n += p.rings[j][i].Read(r.OnRecord, 64)
			}
		}
		if n == 0 {
			return total
		}
		total += n
	}
}

func writeFrame(t *testing.T, rb *ringbuffer.RingBuffer, fr frame.Frame) {
	size := fr.Sizeof()
	index, err := rb.Claim(fr.TypeID(), size)
	require.NoError(t, err)
	_, err = fr.EncodeTo(rb.Buffer(), index, index+size)
	require.NoError(t, err)
	rb.Commit(index)
}

type recorded struct {
	kind        int32
	streamID    int64
	sequence    int64
	acknowledge int64
	maximum     int32
	flags       uint8
	payload     []byte
}

type recorder struct {
	events []recorded
	errs   []error
}

func (h *recorder) OnFrame(ctx context.Context, e *Event) {
	h.events = append(h.events, recorded{
		kind:        e.Kind,
		streamID:    e.StreamID,
		sequence:    e.Sequence,
		acknowledge: e.Acknowledge,
		maximum:     e.Maximum,
		flags:       e.Flags,
		payload:     e.Payload.Clone(),
	})
}

func (h *recorder) OnError(ctx context.Context, streamID int64, err error) {
	h.errs = append(h.errs, err)
}

func (h *recorder) kinds() []int32 {
	kinds := make([]int32, 0, len(h.events))
	for _, e := range h.events {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

type factoryFunc func(ctx context.Context, begin *Event, sender Sender) Handler

func (f factoryFunc) NewStream(ctx context.Context, begin *Event, sender Sender) Handler {
	return f(ctx, begin, sender)
}

type kindMatcher int32

func (m kindMatcher) Matches(x interface{}) bool {
	e, ok := x.(*Event)
	return ok && e.Kind == int32(m)
}

func (m kindMatcher) String() string {
	return "event of kind " + frame.Name(int32(m))
}

func clientContext() context.Context {
	return dpctx.WithValue(context.Background(), types.ContextKeyRoutedID, clientBinding)
}

// openStream opens a stream from worker 0 to a recorder behind serverRoute
// on worker 1 and lets the server begin its reply and grant maximum.
func openStream(t *testing.T, p *testPlane, maximum int32, budgetID int64) (int64, *recorder, *recorder) {
	client, server := &recorder{}, &recorder{}
	p.routers[1].Route(serverRoute, factoryFunc(func(ctx context.Context, begin *Event, sender Sender) Handler {
		return server
	}))

	ctx := clientContext()
	initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
	require.NoError(t, err)
	require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, nil, nil))
	p.pump()

	require.NoError(t, p.routers[1].Send(context.Background(), id.ReplyID(initialID), types.BeginTypeID, nil, nil))
	require.NoError(t, p.routers[1].Window(context.Background(), initialID, 0, maximum, 0, budgetID))
	p.pump()
	return initialID, client, server
}

func TestStreamLifecycle(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	client, server := &recorder{}, &recorder{}
	var serverSender Sender
	p.routers[1].Route(serverRoute, factoryFunc(func(ctx context.Context, begin *Event, sender Sender) Handler {
		assert.Equal(t, clientBinding, begin.OriginID)
		assert.Equal(t, serverRoute, begin.RoutedID)
		assert.Equal(t, "ext", string(begin.Extension.Bytes()))
		serverSender = sender
		return server
	}))

	ctx := clientContext()
	initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
	require.NoError(t, err)
	assert.True(t, id.IsInitial(initialID))
	assert.Equal(t, 1, id.RemoteIndex(initialID))
	assert.Equal(t, 0, id.LocalIndex(initialID))
	replyID := id.ReplyID(initialID)

	require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, []byte("ext"), nil))
	p.pump()
	require.NotNil(t, serverSender)
	assert.Equal(t, []int32{types.BeginTypeID}, server.kinds())

	require.NoError(t, serverSender.Send(context.Background(), replyID, types.BeginTypeID, nil, nil))
	require.NoError(t, serverSender.Window(context.Background(), initialID, 0, 64, 0, types.NoBudgetID))
	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID}, client.kinds())
	assert.Equal(t, int32(64), client.events[1].maximum)

	require.NoError(t, p.routers[0].Send(ctx, initialID, types.DataTypeID, nil, []byte("hello")))
	p.pump()
	require.Len(t, server.events, 2)
	assert.Equal(t, types.DataTypeID, server.events[1].kind)
	assert.Equal(t, "hello", string(server.events[1].payload))
	assert.Equal(t, int64(0), server.events[1].sequence)
	assert.Equal(t, int64(5), p.routers[0].Registry().Sender(initialID).Sequence)
	assert.Equal(t, int64(5), p.routers[1].Registry().Receiver(initialID).Sequence)

	err = p.routers[0].Send(ctx, initialID, types.DataTypeID, nil, make([]byte, 60))
	assert.True(t, types.IsRecoverable(err))
	assert.Equal(t, types.ErrBudgetExceeded, errors.Cause(err))

	require.NoError(t, p.routers[0].Send(ctx, initialID, types.EndTypeID, nil, nil))
	require.NoError(t, serverSender.Send(context.Background(), replyID, types.EndTypeID, nil, nil))
	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.DataTypeID, types.EndTypeID}, server.kinds())
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID, types.EndTypeID}, client.kinds())
	assert.Equal(t, 0, p.routers[0].Registry().Streams())
	assert.Equal(t, 0, p.routers[1].Registry().Streams())
	assert.Empty(t, client.errs)
	assert.Empty(t, server.errs)
}

func TestDataPastWindowResetsStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	p := newTestPlane(t, 2, 1<<20)
	violations := gometrics.NewCounter()
	metrics := NilMetrics()
	metrics.Violations = violations
	p.routers[1].SetMetrics(metrics)

	server := NewMockHandler(ctrl)
	factory := NewMockFactory(ctrl)
	p.routers[1].Route(serverRoute, factory)

	client := &recorder{}
	ctx := clientContext()
	initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
	require.NoError(t, err)

	factory.EXPECT().NewStream(gomock.Any(), kindMatcher(types.BeginTypeID), gomock.Any()).Return(server)
	server.EXPECT().OnFrame(gomock.Any(), kindMatcher(types.BeginTypeID))
	server.EXPECT().OnError(gomock.Any(), initialID, gomock.Any()).Do(func(_ context.Context, _ int64, err error) {
		assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	})

	require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, nil, nil))
	p.pump()
	require.NoError(t, p.routers[1].Window(context.Background(), initialID, 0, 50, 0, types.NoBudgetID))
	p.pump()
	assert.Equal(t, []int32{types.WindowTypeID}, client.kinds())

	writeFrame(t, p.rings[0][1], &frame.Data{
		Header:   frame.Header{StreamID: initialID, Maximum: 50},
		Flags:    types.FlagInit | types.FlagFin,
		Reserved: 60,
		Payload:  make([]byte, 60),
	})
	p.pump()

	assert.Equal(t, int64(1), violations.Count())
	assert.Equal(t, []int32{types.WindowTypeID, types.ResetTypeID}, client.kinds())
	assert.Nil(t, p.routers[0].Registry().Sender(initialID))
	assert.Equal(t, 0, p.routers[0].Registry().Streams())
	assert.Equal(t, 0, p.routers[1].Registry().Streams())
}

func TestBeginWithoutRouteIsReset(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	client := &recorder{}
	ctx := clientContext()
	initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
	require.NoError(t, err)
	require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, nil, nil))
	p.pump()

	assert.Equal(t, []int32{types.ResetTypeID}, client.kinds())
	assert.Equal(t, 0, p.routers[0].Registry().Streams())
	assert.Equal(t, 0, p.routers[1].Registry().Streams())
}

func TestFactoryRefusesStream(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	p.routers[1].Route(serverRoute, factoryFunc(func(context.Context, *Event, Sender) Handler {
		return nil
	}))
	client := &recorder{}
	ctx := clientContext()
	initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
	require.NoError(t, err)
	require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, nil, nil))
	p.pump()

	assert.Equal(t, []int32{types.ResetTypeID}, client.kinds())
	assert.Equal(t, 0, p.routers[1].Registry().Flows())
}

func TestWindowValidation(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	initialID, _, _ := openStream(t, p, 64, types.NoBudgetID)
	server := p.routers[1]

	err := server.Window(context.Background(), initialID, 10, 64, 0, types.NoBudgetID)
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	err = server.Window(context.Background(), initialID, 0, 32, 0, types.NoBudgetID)
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	err = server.Window(context.Background(), initialID+2, 0, 64, 0, types.NoBudgetID)
	assert.Equal(t, types.ErrUnknownStream, errors.Cause(err))

	f := server.Registry().Receiver(initialID)
	assert.Equal(t, int64(64), f.Limit())
}

func TestWindowViolationAbortsSender(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	initialID, client, server := openStream(t, p, 64, types.NoBudgetID)
	replyID := id.ReplyID(initialID)
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID}, client.kinds())

	writeFrame(t, p.rings[1][0], &frame.Window{
		Header: frame.Header{StreamID: initialID, Acknowledge: 10, Maximum: 64},
	})
	p.pump()

	require.Len(t, client.errs, 1)
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(client.errs[0]))
	assert.Equal(t, []int32{types.BeginTypeID, types.AbortTypeID, types.ResetTypeID}, server.kinds())
	assert.Equal(t, initialID, server.events[1].streamID)
	assert.Equal(t, replyID, server.events[2].streamID)
	assert.Equal(t, 0, p.routers[0].Registry().Streams())
	assert.Equal(t, 0, p.routers[1].Registry().Streams())
}

func TestBudgetGatesData(t *testing.T) {
	p := newTestPlane(t, 2, 40)
	initialID, client, server := openStream(t, p, 100, 77)
	ctx := clientContext()
	router := p.routers[0]

	h, ok := router.Budgets().Lookup(77)
	require.True(t, ok)
	assert.Equal(t, int64(40), router.Budgets().Remaining(h))

	require.NoError(t, router.Send(ctx, initialID, types.DataTypeID, nil, make([]byte, 30)))
	err := router.Send(ctx, initialID, types.DataTypeID, nil, make([]byte, 20))
	assert.Equal(t, types.ErrBudgetExceeded, errors.Cause(err))
	assert.Equal(t, int64(30), router.Registry().Sender(initialID).Sequence)
	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.DataTypeID}, server.kinds())

	require.NoError(t, p.routers[1].Window(context.Background(), initialID, 30, 100, 0, 77))
	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID, types.WindowTypeID}, client.kinds())
	assert.Equal(t, int64(40), router.Budgets().Remaining(h))

	require.NoError(t, router.Send(ctx, initialID, types.DataTypeID, nil, make([]byte, 20)))
	stats, ok := router.Budgets().Stats(h)
	require.True(t, ok)
	assert.Equal(t, int64(20), stats.Inflight)
	assert.Equal(t, int64(20), stats.Remaining)

	require.NoError(t, router.Send(ctx, initialID, types.AbortTypeID, nil, nil))
	_, ok = router.Budgets().Lookup(77)
	assert.False(t, ok)
}

func TestSendDataFlags(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	initialID, _, server := openStream(t, p, 64, types.NoBudgetID)
	ctx := clientContext()
	router := p.routers[0]

	require.NoError(t, router.SendData(ctx, initialID, types.FlagInit, nil, []byte("he")))
	require.NoError(t, router.SendData(ctx, initialID, 0, nil, []byte("ll")))
	require.NoError(t, router.SendData(ctx, initialID, types.FlagFin, nil, []byte("o")))
	require.NoError(t, router.Send(ctx, initialID, types.DataTypeID, nil, []byte("!")))

	err := router.SendData(ctx, initialID, 0x80, nil, []byte("x"))
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	assert.Equal(t, int64(6), router.Registry().Sender(initialID).Sequence)

	p.pump()
	require.Len(t, server.events, 5)
	var flags []uint8
	for _, e := range server.events[1:] {
		flags = append(flags, e.flags)
	}
	assert.Equal(t, []uint8{types.FlagInit, 0, types.FlagFin, types.FlagInit | types.FlagFin}, flags)
	assert.Equal(t, "o", string(server.events[3].payload))
}

// fill writes records too short to be frames until ring has no room left.
func fill(rb *ringbuffer.RingBuffer) {
	for rb.Write(types.DataTypeID, make([]byte, 10)) == nil {
	}
}

func TestResetQueuedWhileRingFull(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	initialID, client, _ := openStream(t, p, 64, types.NoBudgetID)
	server := p.routers[1]

	fill(p.rings[1][0])
	require.NoError(t, server.Send(context.Background(), initialID, types.ResetTypeID, nil, nil))
	assert.Nil(t, server.Registry().Receiver(initialID))
	assert.Equal(t, 1, server.Pending())
	assert.Equal(t, 0, server.FlushPending())

	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID}, client.kinds())
	assert.Equal(t, 1, server.FlushPending())
	assert.Equal(t, 0, server.Pending())

	p.pump()
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID, types.ResetTypeID}, client.kinds())
}

func TestRejectQueuedWhileRingFull(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	dropped := gometrics.NewCounter()
	metrics := NilMetrics()
	metrics.Dropped = dropped
	p.routers[1].SetMetrics(metrics)

	initialID, client, server := openStream(t, p, 64, types.NoBudgetID)
	fill(p.rings[1][0])

	writeFrame(t, p.rings[0][1], &frame.Data{
		Header:   frame.Header{StreamID: initialID, Maximum: 64},
		Flags:    types.FlagInit | types.FlagFin,
		Reserved: 80,
		Payload:  make([]byte, 80),
	})
	p.rings[0][1].Read(p.routers[1].OnRecord, 64)
	require.Len(t, server.errs, 1)
	assert.Equal(t, 2, p.routers[1].Pending())

	p.pump()
	assert.Equal(t, 2, p.routers[1].FlushPending())
	p.pump()

	assert.Equal(t, int64(0), dropped.Count())
	assert.Equal(t, []int32{types.BeginTypeID, types.WindowTypeID, types.ResetTypeID, types.AbortTypeID}, client.kinds())
	assert.Equal(t, 0, p.routers[0].Registry().Streams())
	assert.Equal(t, 0, p.routers[1].Registry().Streams())
}

func TestSendErrors(t *testing.T) {
	p := newTestPlane(t, 2, 1<<20)
	router := p.routers[0]
	ctx := clientContext()

	err := router.Send(ctx, 99, types.DataTypeID, nil, []byte("x"))
	assert.Equal(t, types.ErrUnknownStream, errors.Cause(err))

	initialID, err := router.OpenFlow(ctx, serverRoute, 0, &recorder{})
	require.NoError(t, err)
	err = router.Send(ctx, initialID, types.DataTypeID, nil, []byte("x"))
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	err = router.Send(ctx, initialID, types.WindowTypeID, nil, nil)
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))
	err = router.Send(ctx, initialID, 42, nil, nil)
	assert.Equal(t, types.ErrProtocolViolation, errors.Cause(err))

	pendingID, err := router.OpenFlow(ctx, serverRoute, 0, &recorder{})
	require.NoError(t, err)
	require.NoError(t, router.Send(ctx, pendingID, types.AbortTypeID, nil, nil))
	assert.Nil(t, router.Registry().Receiver(id.ReplyID(pendingID)))
	assert.Equal(t, 0, p.pump())

	router.SetResolver(func(int64) int { return 9 })
	_, err = router.OpenFlow(ctx, serverRoute, 0, &recorder{})
	assert.Equal(t, types.ErrWorkerNotAvailable, errors.Cause(err))
}

func TestLoopbackStream(t *testing.T) {
	p := newTestPlane(t, 1, 1<<20)
	initialID, client, server := func() (int64, *recorder, *recorder) {
		client, server := &recorder{}, &recorder{}
		p.routers[0].Route(serverRoute, factoryFunc(func(context.Context, *Event, Sender) Handler {
			return server
		}))
		ctx := clientContext()
		initialID, err := p.routers[0].OpenFlow(ctx, serverRoute, 0, client)
		require.NoError(t, err)
		require.NoError(t, p.routers[0].Send(ctx, initialID, types.BeginTypeID, nil, nil))
		p.pump()
		require.NoError(t, p.routers[0].Window(ctx, initialID, 0, 8, 0, types.NoBudgetID))
		p.pump()
		return initialID, client, server
	}()

	require.NoError(t, p.routers[0].Send(clientContext(), initialID, types.DataTypeID, nil, []byte("loop")))
	p.pump()
	assert.Equal(t, []int32{types.WindowTypeID}, client.kinds())
	assert.Equal(t, []int32{types.BeginTypeID, types.DataTypeID}, server.kinds())
	assert.Equal(t, "loop", string(server.events[1].payload))
}

func TestMalformedRecordIsDropped(t *testing.T) {
	p := newTestPlane(t, 1, 1<<20)
	malformed := gometrics.NewCounter()
	metrics := NilMetrics()
	metrics.Malformed = malformed
	p.routers[0].SetMetrics(metrics)

	require.NoError(t, p.rings[0][0].Write(types.DataTypeID, make([]byte, 10)))
	assert.Equal(t, 1, p.pump())
	assert.Equal(t, int64(1), malformed.Count())
}

func TestDestination(t *testing.T) {
	r := &Router{}
	initialID := id.NewSupplier(2).InitialID(5)
	replyID := id.ReplyID(initialID)

	assert.Equal(t, 5, r.destination(initialID, false))
	assert.Equal(t, 2, r.destination(initialID, true))
	assert.Equal(t, 2, r.destination(replyID, false))
	assert.Equal(t, 5, r.destination(replyID, true))
}
