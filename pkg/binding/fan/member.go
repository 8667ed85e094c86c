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

	"github.com/aklivity/zilla-sub038/pkg/binding/outbox"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// member is one stream routed to the fan binding.
type member struct {
	group       *group
	initialID   int64
	acked       int64
	initialDone bool
	reply       *outbox.Outbox
	replyBegun  bool
}

func (m *member) router() *stream.Router {
	return m.group.factory.router
}

func (m *member) OnFrame(ctx context.Context, e *stream.Event) {
	g := m.group
	switch e.Kind {
	case types.BeginTypeID:
		if err := m.router().Window(ctx, m.initialID, 0, g.factory.window, 0, types.NoBudgetID); err != nil {
			log.Proxy.Warnf(ctx, "[binding] [fan] member window: %v", err)
		}
		if g.replied {
			m.beginReply(ctx)
		}
	case types.DataTypeID:
		if !m.initialDone {
			g.push(ctx, m, e.Payload.Bytes())
		}
	case types.EndTypeID, types.AbortTypeID:
		m.initialDone = true
		g.memberDone(ctx)
		g.sweep()
	case types.WindowTypeID:
		m.reply.Window(e)
		m.flushReply(ctx)
		g.acknowledge(ctx)
	case types.ResetTypeID:
		m.reply.Release()
		m.resetInitial(ctx)
		g.acknowledge(ctx)
		g.memberDone(ctx)
		g.sweep()
	}
}

func (m *member) OnError(ctx context.Context, streamID int64, err error) {
	log.Proxy.Debugf(ctx, "[binding] [fan] member stream %d torn down: %v", streamID, err)
	m.initialDone = true
	m.reply.Release()
	g := m.group
	g.acknowledge(ctx)
	g.memberDone(ctx)
	g.sweep()
}

// beginReply opens the member reply and attaches it to a child of the
// fanout budget.
func (m *member) beginReply(ctx context.Context) {
	if m.replyBegun || m.reply.Closed() {
		return
	}
	router := m.router()
	if err := router.Send(ctx, m.reply.StreamID(), types.BeginTypeID, nil, nil); err != nil {
		log.Proxy.Warnf(ctx, "[binding] [fan] member reply begin: %v", err)
		return
	}
	m.replyBegun = true

	g := m.group
	budgets := router.Budgets()
	child, err := budgets.SupplyChild(g.fanoutID, router.IDs().BudgetID())
	if err != nil {
		log.Proxy.Warnf(ctx, "[binding] [fan] member reply budget: %v", err)
		return
	}
	if ceiling := g.factory.ceiling; ceiling > 0 {
		if parent, ok := budgets.Lookup(g.fanoutID); ok {
			if err := budgets.SetCeiling(0, parent, ceiling); err != nil {
				log.Proxy.Debugf(ctx, "[binding] [fan] fanout ceiling: %v", err)
			}
		}
	}
	if err := router.AttachBudget(m.reply.StreamID(), child); err != nil {
		budgets.Release(child)
		log.Proxy.Warnf(ctx, "[binding] [fan] member reply budget: %v", err)
	}
}

func (m *member) fanout(ctx context.Context, payload []byte) {
	if !m.replyBegun || m.reply.Closed() {
		return
	}
	m.reply.Push(payload)
	m.flushReply(ctx)
}

func (m *member) flushReply(ctx context.Context) {
	if _, err := m.reply.Flush(ctx, m.router()); err != nil {
		log.Proxy.Warnf(ctx, "[binding] [fan] member reply: %v", err)
		m.resetInitial(ctx)
	}
}

func (m *member) closeReply(ctx context.Context, kind int32) {
	if m.reply.Closed() {
		return
	}
	if !m.replyBegun {
		m.reply.Release()
		if err := m.router().Send(ctx, m.reply.StreamID(), types.AbortTypeID, nil, nil); err != nil {
			log.Proxy.Debugf(ctx, "[binding] [fan] member reply abort: %v", err)
		}
		return
	}
	m.reply.Close(kind)
	m.flushReply(ctx)
}

func (m *member) resetInitial(ctx context.Context) {
	if m.initialDone {
		return
	}
	m.initialDone = true
	if err := m.router().Send(ctx, m.initialID, types.ResetTypeID, nil, nil); err != nil {
		log.Proxy.Debugf(ctx, "[binding] [fan] member reset: %v", err)
	}
}

// forwarded acknowledges n bytes of this member that reached the exit.
func (m *member) forwarded(ctx context.Context, n int) {
	m.acked += int64(n)
	if m.initialDone {
		return
	}
	if err := m.router().Window(ctx, m.initialID, m.acked, m.group.factory.window, 0, types.NoBudgetID); err != nil {
		log.Proxy.Debugf(ctx, "[binding] [fan] member window: %v", err)
	}
}
