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

	"github.com/pkg/errors"
	mlog "mosn.io/pkg/log"

	"github.com/aklivity/zilla-sub038/pkg/budget"
	dpctx "github.com/aklivity/zilla-sub038/pkg/context"
	"github.com/aklivity/zilla-sub038/pkg/frame"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// TargetSupplier returns the transport toward worker index.
type TargetSupplier func(index int) (Target, error)

// Resolver picks the worker that handles streams routed to routedID.
type Resolver func(routedID int64) int

// Router dispatches the frames one worker reads to the adapters that own
// their streams, enforces flow control on them and writes the frames
// adapters send. Each worker owns exactly one Router; none of its methods
// are safe for concurrent use.
type Router struct {
	index    int
	ctx      context.Context
	ids      *id.Supplier
	budgets  *budget.Manager
	registry *Registry
	routes   map[int64]Factory
	targets  TargetSupplier
	resolve  Resolver
	metrics  *Metrics

	// stream whose WINDOW is crediting its budget; the WINDOW event itself
	// tells its handler there is room again.
	windowing int64

	// control frames waiting for ring space, in emit order
	pending []pendingFrame

	frameFW  frame.FrameFW
	beginFW  frame.BeginFW
	dataFW   frame.DataFW
	endFW    frame.EndFW
	abortFW  frame.AbortFW
	flushFW  frame.FlushFW
	resetFW  frame.ResetFW
	windowFW frame.WindowFW
	signalFW frame.SignalFW
	chalFW   frame.ChallengeFW
	event    Event

	begin     frame.Begin
	data      frame.Data
	end       frame.End
	abort     frame.Abort
	flush     frame.Flush
	reset     frame.Reset
	window    frame.Window
	signal    frame.Signal
	challenge frame.Challenge
}

// NewRouter creates the router of worker index. Streams stay on the
// worker that opens them unless SetResolver says otherwise.
func NewRouter(ctx context.Context, index int, budgets *budget.Manager, targets TargetSupplier) *Router {
	r := &Router{
		index:    index,
		ctx:      dpctx.Clone(dpctx.WithValue(ctx, types.ContextKeyWorkerIndex, index)),
		ids:      id.NewSupplier(index),
		budgets:  budgets,
		registry: NewRegistry(),
		routes:   make(map[int64]Factory),
		targets:  targets,
		metrics:  NilMetrics(),
	}
	r.resolve = func(int64) int { return r.index }
	return r
}

func (r *Router) Index() int {
	return r.index
}

func (r *Router) Registry() *Registry {
	return r.registry
}

func (r *Router) Budgets() *budget.Manager {
	return r.budgets
}

// IDs supplies stream, budget and trace ids unique to this worker.
func (r *Router) IDs() *id.Supplier {
	return r.ids
}

func (r *Router) SetResolver(resolve Resolver) {
	r.resolve = resolve
}

func (r *Router) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Route binds routedID to the factory of the adapter that accepts its
// streams.
func (r *Router) Route(routedID int64, factory Factory) {
	if factory == nil {
		delete(r.routes, routedID)
		return
	}
	r.routes[routedID] = factory
}

// OnRecord handles one record read from the transport. It has the shape
// of a ring buffer handler.
func (r *Router) OnRecord(typeID int32, buffer []byte, index int, length int) {
	r.metrics.FramesIn.Inc(1)
	r.metrics.BytesIn.Inc(int64(length))

	limit := index + length
	if err := r.frameFW.Wrap(buffer, index, limit); err != nil {
		r.metrics.Malformed.Inc(1)
		log.Proxy.Alertf(r.ctx, types.ErrorKeyProtocol, "[stream] [router] dropped %s record: %v", frame.Name(typeID), err)
		return
	}

	streamID := r.frameFW.StreamID()
	ctx := dpctx.WithFrame(r.ctx, streamID, r.frameFW.TraceID())
	if log.Proxy.GetLogLevel() >= mlog.DEBUG {
		log.Proxy.Debugf(ctx, "[stream] [router] recv %s length %d", frame.Name(typeID), length)
	}

	switch typeID {
	case types.BeginTypeID:
		r.onBegin(ctx, buffer, index, limit)
	case types.DataTypeID:
		r.onData(ctx, buffer, index, limit)
	case types.EndTypeID:
		r.onEnd(ctx, buffer, index, limit)
	case types.AbortTypeID:
		r.onAbort(ctx, buffer, index, limit)
	case types.FlushTypeID:
		r.onFlush(ctx, buffer, index, limit)
	case types.WindowTypeID:
		r.onWindow(ctx, buffer, index, limit)
	case types.ResetTypeID:
		r.onReset(ctx, buffer, index, limit)
	case types.ChallengeTypeID:
		r.onChallenge(ctx, buffer, index, limit)
	case types.SignalTypeID:
		r.onSignal(ctx, buffer, index, limit)
	default:
		r.metrics.Malformed.Inc(1)
		log.Proxy.Alertf(ctx, types.ErrorKeyProtocol, "[stream] [router] unknown frame type %s", frame.Name(typeID))
		if types.IsThrottle(typeID) {
			r.rejectSender(ctx, streamID, errors.Wrapf(types.ErrMalformedFrame, "unknown frame type 0x%08x", typeID))
		} else {
			r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrMalformedFrame, "unknown frame type 0x%08x", typeID))
		}
	}
}

func (r *Router) onBegin(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.beginFW
	streamID := r.frameFW.StreamID()
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}
	if fw.Sequence() < fw.Acknowledge() {
		r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation,
			"begin sequence %d behind acknowledge %d", fw.Sequence(), fw.Acknowledge()))
		return
	}

	f := r.registry.Receiver(streamID)
	switch {
	case f != nil && f.State == StatePending:
		f.State = StateOpen
	case f != nil:
		r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation, "begin on %s flow", f.State))
		return
	case id.IsInitial(streamID):
		factory, ok := r.routes[fw.RoutedID()]
		if !ok {
			r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrNoRoute, "routed id %d", fw.RoutedID()))
			return
		}
		f = &Flow{
			StreamID:      streamID,
			OriginID:      fw.OriginID(),
			RoutedID:      fw.RoutedID(),
			Affinity:      fw.Affinity(),
			Authorization: fw.Authorization(),
			State:         StateOpen,
			budget:        budget.NoHandle,
		}
		r.fillEvent(types.BeginTypeID, &fw.FrameFW)
		r.event.OriginID = f.OriginID
		r.event.RoutedID = f.RoutedID
		r.event.Affinity = f.Affinity
		handler := factory.NewStream(ctx, &r.event, r)
		if handler == nil {
			r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrNoRoute, "routed id %d refused stream", fw.RoutedID()))
			return
		}
		f.handler = handler
		r.registry.PutReceiver(f)
		r.registry.PutSender(&Flow{
			StreamID:      id.ReplyID(streamID),
			OriginID:      f.OriginID,
			RoutedID:      f.RoutedID,
			Affinity:      f.Affinity,
			Authorization: f.Authorization,
			State:         StatePending,
			budget:        budget.NoHandle,
			handler:       handler,
		})
		r.metrics.Opened.Inc(1)
	default:
		r.rejectReceiver(ctx, streamID, errors.Wrap(types.ErrProtocolViolation, "begin on reply flow without pending route"))
		return
	}

	f.Sequence = fw.Sequence()
	f.Acknowledge = fw.Acknowledge()

	r.fillEvent(types.BeginTypeID, &fw.FrameFW)
	r.event.OriginID = fw.OriginID()
	r.event.RoutedID = fw.RoutedID()
	r.event.Affinity = fw.Affinity()
	f.handler.OnFrame(ctx, &r.event)
}

func (r *Router) onData(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.dataFW
	streamID := r.frameFW.StreamID()
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}
	f := r.openReceiver(ctx, streamID, "data")
	if f == nil {
		return
	}
	if err := r.advance(f, fw.Sequence(), fw.Reserved(), fw.Payload().Len()); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}

	r.fillEvent(types.DataTypeID, &fw.FrameFW)
	r.event.Flags = fw.Flags()
	r.event.Reserved = fw.Reserved()
	r.event.Payload = fw.Payload()
	f.handler.OnFrame(ctx, &r.event)
}

func (r *Router) onFlush(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.flushFW
	streamID := r.frameFW.StreamID()
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}
	f := r.openReceiver(ctx, streamID, "flush")
	if f == nil {
		return
	}
	if err := r.advance(f, fw.Sequence(), fw.Reserved(), 0); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}

	r.fillEvent(types.FlushTypeID, &fw.FrameFW)
	r.event.Reserved = fw.Reserved()
	f.handler.OnFrame(ctx, &r.event)
}

// advance moves the receive sequence past a frame that reserved bytes of
// window, rejecting frames that overrun the limit granted to the sender.
func (r *Router) advance(f *Flow, sequence int64, reserved int32, length int) error {
	if sequence < f.Sequence {
		return errors.Wrapf(types.ErrProtocolViolation, "sequence %d behind %d", sequence, f.Sequence)
	}
	if reserved < 0 || int(reserved) < length {
		return errors.Wrapf(types.ErrProtocolViolation, "reserved %d for length %d", reserved, length)
	}
	if next := sequence + int64(reserved); next > f.Limit() {
		return errors.Wrapf(types.ErrProtocolViolation, "sequence %d exceeds window limit %d", next, f.Limit())
	}
	f.Sequence = sequence + int64(reserved)
	return nil
}

func (r *Router) onEnd(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.endFW
	streamID := r.frameFW.StreamID()
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}
	f := r.openReceiver(ctx, streamID, "end")
	if f == nil {
		return
	}
	f.State = StateClosed
	r.fillEvent(types.EndTypeID, &fw.FrameFW)
	f.handler.OnFrame(ctx, &r.event)
	r.cleanupReceiver(f)
}

func (r *Router) onAbort(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.abortFW
	streamID := r.frameFW.StreamID()
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectReceiver(ctx, streamID, err)
		return
	}
	f := r.registry.Receiver(streamID)
	if f == nil {
		log.Proxy.Debugf(ctx, "[stream] [router] abort for unknown flow")
		return
	}
	f.State = StateReset
	r.fillEvent(types.AbortTypeID, &fw.FrameFW)
	f.handler.OnFrame(ctx, &r.event)
	r.cleanupReceiver(f)
}

// openReceiver finds the receiving flow a data direction frame belongs to,
// resetting the sender when there is none that is open.
func (r *Router) openReceiver(ctx context.Context, streamID int64, kind string) *Flow {
	f := r.registry.Receiver(streamID)
	if f == nil {
		r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrUnknownStream, "%s for stream %d", kind, streamID))
		return nil
	}
	if f.State != StateOpen {
		r.rejectReceiver(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation, "%s on %s flow", kind, f.State))
		return nil
	}
	return f
}

func (r *Router) onWindow(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.windowFW
	streamID := r.frameFW.StreamID()
	f := r.registry.Sender(streamID)
	if f == nil {
		log.Proxy.Debugf(ctx, "[stream] [router] window for unknown flow")
		return
	}
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectSender(ctx, streamID, err)
		return
	}
	if f.State != StateOpen {
		r.rejectSender(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation, "window on %s flow", f.State))
		return
	}

	acknowledge, maximum := fw.Acknowledge(), fw.Maximum()
	newLimit := acknowledge + int64(maximum)
	switch {
	case acknowledge < f.Acknowledge:
		r.rejectSender(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation,
			"acknowledge %d behind %d", acknowledge, f.Acknowledge))
		return
	case acknowledge > f.Sequence:
		r.rejectSender(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation,
			"acknowledge %d ahead of sequence %d", acknowledge, f.Sequence))
		return
	case maximum < 0 || newLimit < f.Limit():
		r.rejectSender(ctx, streamID, errors.Wrapf(types.ErrProtocolViolation,
			"window limit %d below %d", newLimit, f.Limit()))
		return
	}

	acknowledged := acknowledge - f.Acknowledge
	credit := newLimit - f.Limit()
	f.Acknowledge = acknowledge
	f.Maximum = maximum
	f.Padding = fw.Padding()
	if f.budget == budget.NoHandle && fw.BudgetID() != types.NoBudgetID {
		f.BudgetID = fw.BudgetID()
		f.budget = r.budgets.Acquire(f.BudgetID)
	}

	if f.budget != budget.NoHandle {
		traceID := fw.TraceID()
		r.windowing = streamID
		r.budgets.Acknowledge(traceID, f.budget, acknowledged)
		_, err := r.budgets.Credit(traceID, f.budget, credit)
		r.windowing = 0
		if err != nil {
			r.rejectSender(ctx, streamID, err)
			return
		}
	}

	r.fillEvent(types.WindowTypeID, &fw.FrameFW)
	r.event.Padding = f.Padding
	f.handler.OnFrame(ctx, &r.event)
}

func (r *Router) onReset(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.resetFW
	streamID := r.frameFW.StreamID()
	f := r.registry.Sender(streamID)
	if f == nil {
		log.Proxy.Debugf(ctx, "[stream] [router] reset for unknown flow")
		return
	}
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectSender(ctx, streamID, err)
		return
	}
	f.State = StateReset
	r.fillEvent(types.ResetTypeID, &fw.FrameFW)
	f.handler.OnFrame(ctx, &r.event)
	r.cleanupSender(f)

	// a reply that never began will not begin now
	if p := r.registry.Receiver(id.Paired(streamID)); p != nil && p.State == StatePending {
		p.State = StateReset
		r.cleanupReceiver(p)
	}
}

func (r *Router) onChallenge(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.chalFW
	streamID := r.frameFW.StreamID()
	f := r.registry.Sender(streamID)
	if f == nil {
		log.Proxy.Debugf(ctx, "[stream] [router] challenge for unknown flow")
		return
	}
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.rejectSender(ctx, streamID, err)
		return
	}
	r.fillEvent(types.ChallengeTypeID, &fw.FrameFW)
	f.handler.OnFrame(ctx, &r.event)
}

func (r *Router) onSignal(ctx context.Context, buffer []byte, offset int, limit int) {
	fw := &r.signalFW
	streamID := r.frameFW.StreamID()
	f := r.registry.Sender(streamID)
	if f == nil {
		f = r.registry.Receiver(streamID)
	}
	if f == nil {
		log.Proxy.Debugf(ctx, "[stream] [router] signal for unknown flow")
		return
	}
	if err := fw.Wrap(buffer, offset, limit); err != nil {
		r.metrics.Malformed.Inc(1)
		log.Proxy.Alertf(ctx, types.ErrorKeyProtocol, "[stream] [router] dropped signal: %v", err)
		return
	}
	r.fillEvent(types.SignalTypeID, &fw.FrameFW)
	r.event.SignalID = fw.SignalID()
	r.event.Payload = fw.Payload()
	f.handler.OnFrame(ctx, &r.event)
}

func (r *Router) fillEvent(kind int32, fw *frame.FrameFW) {
	r.event = Event{
		Kind:          kind,
		StreamID:      fw.StreamID(),
		Sequence:      fw.Sequence(),
		Acknowledge:   fw.Acknowledge(),
		Maximum:       fw.Maximum(),
		TraceID:       fw.TraceID(),
		Authorization: fw.Authorization(),
		BudgetID:      fw.BudgetID(),
		Extension:     fw.Extension(),
	}
}

// rejectReceiver resets the sender of a receiving flow that broke the
// protocol and aborts the flow paired with it.
func (r *Router) rejectReceiver(ctx context.Context, streamID int64, err error) {
	r.metrics.Violations.Inc(1)
	log.Proxy.Alertf(ctx, types.ErrorKeyProtocol, "[stream] [router] reset receiving flow: %v", err)

	traceID := r.frameFW.TraceID()
	f := r.registry.Receiver(streamID)
	if f == nil || !f.State.Terminal() {
		r.reset.Header = frame.Header{StreamID: streamID, TraceID: traceID}
		if f != nil {
			r.reset.Header = r.throttleHeader(f, traceID, types.NoBudgetID)
		}
		r.reset.Extension = nil
		r.emit(ctx, streamID, true, &r.reset)
	}
	if f == nil {
		return
	}
	f.State = StateReset
	r.cleanupReceiver(f)

	if p := r.registry.Sender(id.Paired(streamID)); p != nil && !p.State.Terminal() {
		r.abortSender(ctx, p, traceID)
	}
	f.handler.OnError(ctx, streamID, err)
}

// rejectSender aborts a sending flow whose receiver broke the protocol and
// resets the flow paired with it.
func (r *Router) rejectSender(ctx context.Context, streamID int64, err error) {
	r.metrics.Violations.Inc(1)
	log.Proxy.Alertf(ctx, types.ErrorKeyProtocol, "[stream] [router] abort sending flow: %v", err)

	traceID := r.frameFW.TraceID()
	f := r.registry.Sender(streamID)
	if f == nil {
		return
	}
	r.abortSender(ctx, f, traceID)

	if p := r.registry.Receiver(id.Paired(streamID)); p != nil && !p.State.Terminal() {
		r.reset.Header = r.throttleHeader(p, traceID, types.NoBudgetID)
		r.reset.Extension = nil
		r.emit(ctx, p.StreamID, true, &r.reset)
		p.State = StateReset
		r.cleanupReceiver(p)
	}
	f.handler.OnError(ctx, streamID, err)
}

func (r *Router) abortSender(ctx context.Context, f *Flow, traceID int64) {
	if f.State == StateOpen {
		r.abort.Header = r.dataHeader(f, traceID)
		r.abort.Extension = nil
		r.emit(ctx, f.StreamID, false, &r.abort)
	}
	f.State = StateReset
	r.cleanupSender(f)
}

// emit writes a frame the router originates itself. A full ring queues it
// for FlushPending; any other failure drops it.
func (r *Router) emit(ctx context.Context, streamID int64, throttle bool, fr frame.Frame) {
	if err := r.writeOrQueue(streamID, throttle, fr); err != nil {
		r.metrics.Dropped.Inc(1)
		log.Proxy.Errorf(ctx, "[stream] [router] dropped %s: %v", frame.Name(fr.TypeID()), err)
	}
}

func (r *Router) cleanupReceiver(f *Flow) {
	if r.registry.RemoveReceiver(f.StreamID) {
		r.metrics.Closed.Inc(1)
	}
}

func (r *Router) cleanupSender(f *Flow) {
	if f.budget != budget.NoHandle {
		r.budgets.Unwatch(f.budget, f.StreamID)
		r.budgets.Release(f.budget)
		f.budget = budget.NoHandle
	}
	if r.registry.RemoveSender(f.StreamID) {
		r.metrics.Closed.Inc(1)
	}
}
