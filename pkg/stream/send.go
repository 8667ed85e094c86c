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

	"github.com/aklivity/zilla-sub038/pkg/budget"
	dpctx "github.com/aklivity/zilla-sub038/pkg/context"
	"github.com/aklivity/zilla-sub038/pkg/frame"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// OpenFlow creates a stream toward the adapter bound to routedID. The
// initial flow stays PENDING until the caller sends BEGIN on the returned
// id; the reply flow stays PENDING until the peer does. The caller's own
// binding id is read from ctx under types.ContextKeyRoutedID.
func (r *Router) OpenFlow(ctx context.Context, routedID int64, authorization int64, handler Handler) (int64, error) {
	if handler == nil {
		return 0, errors.New("open flow: nil handler")
	}
	remote := r.resolve(routedID)
	if _, err := r.targets(remote); err != nil {
		return 0, errors.Wrapf(err, "open flow to %d", routedID)
	}
	originID, _ := dpctx.Get(ctx, types.ContextKeyRoutedID).(int64)

	initialID := r.ids.InitialID(remote)
	r.registry.PutSender(&Flow{
		StreamID:      initialID,
		OriginID:      originID,
		RoutedID:      routedID,
		Authorization: authorization,
		State:         StatePending,
		budget:        budget.NoHandle,
		handler:       handler,
	})
	r.registry.PutReceiver(&Flow{
		StreamID:      id.ReplyID(initialID),
		OriginID:      originID,
		RoutedID:      routedID,
		Authorization: authorization,
		State:         StatePending,
		budget:        budget.NoHandle,
		handler:       handler,
	})
	r.metrics.Opened.Inc(1)
	return initialID, nil
}

// Send writes a frame of kind on streamID. BEGIN, DATA, FLUSH, END and
// ABORT go out on a flow this worker sends; RESET, CHALLENGE and SIGNAL
// go back to the sender of a flow this worker receives. DATA sent here is
// a whole message, flagged INIT and FIN. Errors for which
// types.IsRecoverable holds leave the flow untouched so the caller can
// retry once the transport drains or the window opens. ABORT and RESET
// never fail for lack of ring space: they are queued and written by
// FlushPending.
func (r *Router) Send(ctx context.Context, streamID int64, kind int32, extension []byte, payload []byte) error {
	if kind == types.DataTypeID {
		return r.SendData(ctx, streamID, types.FlagInit|types.FlagFin, extension, payload)
	}
	traceID := r.traceID(ctx)
	switch kind {
	case types.BeginTypeID:
		f, err := r.sender(streamID, StatePending)
		if err != nil {
			return err
		}
		r.begin.Header = r.dataHeader(f, traceID)
		r.begin.OriginID = f.OriginID
		r.begin.RoutedID = f.RoutedID
		r.begin.Affinity = f.Affinity
		r.begin.Extension = extension
		if err := r.write(streamID, false, &r.begin); err != nil {
			return err
		}
		f.State = StateOpen
		return nil

	case types.FlushTypeID:
		f, err := r.sender(streamID, StateOpen)
		if err != nil {
			return err
		}
		r.flush.Header = r.dataHeader(f, traceID)
		r.flush.Reserved = 0
		r.flush.Extension = extension
		return r.write(streamID, false, &r.flush)

	case types.EndTypeID:
		f, err := r.sender(streamID, StateOpen)
		if err != nil {
			return err
		}
		r.end.Header = r.dataHeader(f, traceID)
		r.end.Extension = extension
		if err := r.write(streamID, false, &r.end); err != nil {
			return err
		}
		f.State = StateClosed
		r.cleanupSender(f)
		return nil

	case types.AbortTypeID:
		f := r.registry.Sender(streamID)
		if f == nil {
			return errors.Wrapf(types.ErrUnknownStream, "abort stream %d", streamID)
		}
		began := f.State == StateOpen
		if began {
			r.abort.Header = r.dataHeader(f, traceID)
			r.abort.Extension = extension
			if err := r.writeOrQueue(streamID, false, &r.abort); err != nil {
				return err
			}
		}
		f.State = StateReset
		r.cleanupSender(f)
		// nobody will reply to a stream that never began
		if p := r.registry.Receiver(id.Paired(streamID)); !began && p != nil && p.State == StatePending {
			p.State = StateReset
			r.cleanupReceiver(p)
		}
		return nil

	case types.ResetTypeID:
		f := r.registry.Receiver(streamID)
		if f == nil {
			return errors.Wrapf(types.ErrUnknownStream, "reset stream %d", streamID)
		}
		r.reset.Header = r.throttleHeader(f, traceID, types.NoBudgetID)
		r.reset.Extension = extension
		if err := r.writeOrQueue(streamID, true, &r.reset); err != nil {
			return err
		}
		f.State = StateReset
		r.cleanupReceiver(f)
		return nil

	case types.ChallengeTypeID:
		f, err := r.receiver(streamID)
		if err != nil {
			return err
		}
		r.challenge.Header = r.throttleHeader(f, traceID, types.NoBudgetID)
		r.challenge.Extension = extension
		return r.write(streamID, true, &r.challenge)

	case types.SignalTypeID:
		f, err := r.receiver(streamID)
		if err != nil {
			return err
		}
		r.signal.Header = r.throttleHeader(f, traceID, types.NoBudgetID)
		r.signal.Payload = payload
		r.signal.Extension = extension
		return r.write(streamID, true, &r.signal)

	case types.WindowTypeID:
		return errors.Wrap(types.ErrProtocolViolation, "window is sent with Window")
	}
	return errors.Wrapf(types.ErrProtocolViolation, "cannot send frame type %s", frame.Name(kind))
}

// SendData writes one DATA fragment on streamID. flags marks where the
// fragment sits in its message: FlagInit on the first, FlagFin on the last.
func (r *Router) SendData(ctx context.Context, streamID int64, flags uint8, extension []byte, payload []byte) error {
	if flags&^dataFlags != 0 {
		return errors.Wrapf(types.ErrProtocolViolation, "data flags 0x%02x", flags)
	}
	f, err := r.sender(streamID, StateOpen)
	if err != nil {
		return err
	}
	return r.sendData(f, r.traceID(ctx), flags, extension, payload)
}

const dataFlags = types.FlagFin | types.FlagInit | types.FlagIncomplete | types.FlagSkip

// sendData claims transport space before budget, so a full ring never
// strands claimed credit.
func (r *Router) sendData(f *Flow, traceID int64, flags uint8, extension []byte, payload []byte) error {
	reserved := len(payload) + int(f.Padding)
	if int64(reserved) > f.Window() {
		return errors.Wrapf(types.ErrBudgetExceeded, "stream %d reserved %d, window %d", f.StreamID, reserved, f.Window())
	}

	target, err := r.targets(r.destination(f.StreamID, false))
	if err != nil {
		return err
	}
	r.data.Header = r.dataHeader(f, traceID)
	r.data.Flags = flags
	r.data.Reserved = int32(reserved)
	r.data.Payload = payload
	r.data.Extension = extension

	size := r.data.Sizeof()
	index, err := target.Claim(types.DataTypeID, size)
	if err != nil {
		return err
	}
	if f.budget != budget.NoHandle && reserved > 0 {
		if claimed := r.budgets.Claim(f.budget, reserved, reserved, len(payload)); claimed < reserved {
			target.Abort(index)
			r.budgets.Watch(f.budget, f.StreamID, r.flusher(f.StreamID))
			return errors.Wrapf(types.ErrBudgetExceeded, "stream %d budget %d", f.StreamID, f.BudgetID)
		}
	}
	if _, err := r.data.EncodeTo(target.Buffer(), index, index+size); err != nil {
		target.Abort(index)
		return err
	}
	target.Commit(index)
	f.Sequence += int64(reserved)

	r.metrics.FramesOut.Inc(1)
	r.metrics.BytesOut.Inc(int64(size))
	return nil
}

// flusher tells the handler of a flow blocked on its budget that credit
// arrived, as a WINDOW event carrying the current flow state.
func (r *Router) flusher(streamID int64) budget.Flusher {
	return func(traceID int64) {
		if streamID == r.windowing {
			return
		}
		f := r.registry.Sender(streamID)
		if f == nil || f.State != StateOpen {
			return
		}
		r.event = Event{
			Kind:          types.WindowTypeID,
			StreamID:      streamID,
			Sequence:      f.Sequence,
			Acknowledge:   f.Acknowledge,
			Maximum:       f.Maximum,
			TraceID:       traceID,
			Authorization: f.Authorization,
			BudgetID:      f.BudgetID,
			Padding:       f.Padding,
		}
		f.handler.OnFrame(dpctx.WithFrame(r.ctx, streamID, traceID), &r.event)
	}
}

// Window grants the sender of a receiving flow room up to acknowledge plus
// maximum. The limit may only grow.
func (r *Router) Window(ctx context.Context, streamID int64, acknowledge int64, maximum int32, padding int32, budgetID int64) error {
	f, err := r.receiver(streamID)
	if err != nil {
		return err
	}
	switch {
	case acknowledge < f.Acknowledge || acknowledge > f.Sequence:
		return errors.Wrapf(types.ErrProtocolViolation, "acknowledge %d outside [%d, %d]", acknowledge, f.Acknowledge, f.Sequence)
	case maximum < 0 || acknowledge+int64(maximum) < f.Limit():
		return errors.Wrapf(types.ErrProtocolViolation, "window limit %d below %d", acknowledge+int64(maximum), f.Limit())
	}

	prevAcknowledge, prevMaximum, prevPadding, prevBudgetID := f.Acknowledge, f.Maximum, f.Padding, f.BudgetID
	f.Acknowledge = acknowledge
	f.Maximum = maximum
	f.Padding = padding
	f.BudgetID = budgetID

	r.window.Header = r.throttleHeader(f, r.traceID(ctx), budgetID)
	r.window.Padding = padding
	r.window.Minimum = 0
	r.window.Capabilities = 0
	r.window.Extension = nil
	if err := r.write(streamID, true, &r.window); err != nil {
		f.Acknowledge, f.Maximum, f.Padding, f.BudgetID = prevAcknowledge, prevMaximum, prevPadding, prevBudgetID
		return err
	}
	return nil
}

// AttachBudget makes a sending flow draw on h instead of the budget named
// by its peer's WINDOW, for adapters that merge flows under one parent.
// The router takes over the reference to h.
func (r *Router) AttachBudget(streamID int64, h budget.Handle) error {
	f := r.registry.Sender(streamID)
	if f == nil || f.State.Terminal() {
		return errors.Wrapf(types.ErrUnknownStream, "attach budget to stream %d", streamID)
	}
	stats, ok := r.budgets.Stats(h)
	if !ok {
		return errors.Wrapf(types.ErrUnknownBudget, "attach handle %d", h)
	}
	if f.budget != budget.NoHandle {
		r.budgets.Unwatch(f.budget, streamID)
		r.budgets.Release(f.budget)
	}
	f.budget = h
	f.BudgetID = stats.BudgetID
	if window := f.Window(); window > 0 {
		if _, err := r.budgets.Credit(0, h, window); err != nil {
			log.Proxy.Warnf(dpctx.WithFrame(r.ctx, streamID, 0), "[stream] [router] credit attached budget: %v", err)
		}
	}
	return nil
}

func (r *Router) sender(streamID int64, state State) (*Flow, error) {
	f := r.registry.Sender(streamID)
	if f == nil {
		return nil, errors.Wrapf(types.ErrUnknownStream, "send on stream %d", streamID)
	}
	if f.State != state {
		return nil, errors.Wrapf(types.ErrProtocolViolation, "send on %s flow %d", f.State, streamID)
	}
	return f, nil
}

func (r *Router) receiver(streamID int64) (*Flow, error) {
	f := r.registry.Receiver(streamID)
	if f == nil {
		return nil, errors.Wrapf(types.ErrUnknownStream, "throttle stream %d", streamID)
	}
	if f.State != StateOpen {
		return nil, errors.Wrapf(types.ErrProtocolViolation, "throttle %s flow %d", f.State, streamID)
	}
	return f, nil
}

func (r *Router) traceID(ctx context.Context) int64 {
	if traceID, ok := dpctx.Get(ctx, types.ContextKeyTraceID).(int64); ok && traceID != 0 {
		return traceID
	}
	return r.ids.TraceID()
}

func (r *Router) dataHeader(f *Flow, traceID int64) frame.Header {
	return frame.Header{
		StreamID:      f.StreamID,
		Sequence:      f.Sequence,
		Acknowledge:   f.Acknowledge,
		Maximum:       f.Maximum,
		TraceID:       traceID,
		Authorization: f.Authorization,
		BudgetID:      f.BudgetID,
	}
}

func (r *Router) throttleHeader(f *Flow, traceID int64, budgetID int64) frame.Header {
	return frame.Header{
		StreamID:      f.StreamID,
		Sequence:      f.Sequence,
		Acknowledge:   f.Acknowledge,
		Maximum:       f.Maximum,
		TraceID:       traceID,
		Authorization: f.Authorization,
		BudgetID:      budgetID,
	}
}

// destination is the worker a frame on streamID is written to. Data
// direction frames travel with the flow; throttle frames travel against it.
func (r *Router) destination(streamID int64, throttle bool) int {
	if id.IsInitial(streamID) != throttle {
		return id.RemoteIndex(streamID)
	}
	return id.LocalIndex(streamID)
}

// writeOrQueue writes fr, or queues a copy behind the frames already
// waiting for the same worker when its ring is full.
func (r *Router) writeOrQueue(streamID int64, throttle bool, fr frame.Frame) error {
	destination := r.destination(streamID, throttle)
	if !r.queued(destination) {
		err := r.write(streamID, throttle, fr)
		if err == nil || !types.Is(err, types.ErrInsufficientSpace) {
			return err
		}
	}
	encoded := make([]byte, fr.Sizeof())
	if _, err := fr.EncodeTo(encoded, 0, len(encoded)); err != nil {
		return err
	}
	r.pending = append(r.pending, pendingFrame{
		destination: destination,
		typeID:      fr.TypeID(),
		encoded:     encoded,
	})
	return nil
}

func (r *Router) queued(destination int) bool {
	for i := range r.pending {
		if r.pending[i].destination == destination {
			return true
		}
	}
	return false
}

// Pending is the number of frames waiting for ring space.
func (r *Router) Pending() int {
	return len(r.pending)
}

// FlushPending writes queued frames in order and returns how many were
// written. A worker whose ring is still full keeps the rest of its frames
// queued for the next call.
func (r *Router) FlushPending() int {
	if len(r.pending) == 0 {
		return 0
	}
	written := 0
	var blocked []int
	kept := r.pending[:0]
	for _, p := range r.pending {
		if containsInt(blocked, p.destination) {
			kept = append(kept, p)
			continue
		}
		err := r.writeEncoded(p)
		switch {
		case err == nil:
			written++
		case types.Is(err, types.ErrInsufficientSpace):
			blocked = append(blocked, p.destination)
			kept = append(kept, p)
		default:
			r.metrics.Dropped.Inc(1)
			log.Proxy.Errorf(r.ctx, "[stream] [router] dropped queued %s: %v", frame.Name(p.typeID), err)
		}
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = pendingFrame{}
	}
	r.pending = kept
	return written
}

func (r *Router) writeEncoded(p pendingFrame) error {
	target, err := r.targets(p.destination)
	if err != nil {
		return err
	}
	index, err := target.Claim(p.typeID, len(p.encoded))
	if err != nil {
		return err
	}
	copy(target.Buffer()[index:], p.encoded)
	target.Commit(index)

	r.metrics.FramesOut.Inc(1)
	r.metrics.BytesOut.Inc(int64(len(p.encoded)))
	return nil
}

func containsInt(values []int, v int) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func (r *Router) write(streamID int64, throttle bool, fr frame.Frame) error {
	target, err := r.targets(r.destination(streamID, throttle))
	if err != nil {
		return err
	}
	size := fr.Sizeof()
	index, err := target.Claim(fr.TypeID(), size)
	if err != nil {
		return err
	}
	if _, err := fr.EncodeTo(target.Buffer(), index, index+size); err != nil {
		target.Abort(index)
		return err
	}
	target.Commit(index)

	r.metrics.FramesOut.Inc(1)
	r.metrics.BytesOut.Inc(int64(size))
	return nil
}
