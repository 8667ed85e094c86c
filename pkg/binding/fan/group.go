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
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// segment is a run of group payload that came from one member.
type segment struct {
	member *member
	length int
}

// group is the stream toward the exit shared by the members of one worker.
// Member data goes out on its initial flow in arrival order; members are
// acknowledged as their bytes leave. Its reply is copied to every member,
// each member reply drawing on a child of the fanout budget, and is
// acknowledged as far as the slowest member has taken it.
type group struct {
	factory  *factory
	initial  *outbox.Outbox
	segments []segment
	members  []*member
	budgeted bool
	closing  bool

	replied  bool
	replySeq int64
	replyAck int64
	fanoutID int64
}

func (g *group) newMember(initialID int64) *member {
	m := &member{
		group:     g,
		initialID: initialID,
		reply:     outbox.New(id.ReplyID(initialID)),
	}
	g.members = append(g.members, m)
	return m
}

func (g *group) replyID() int64 {
	return id.ReplyID(g.initial.StreamID())
}

func (g *group) OnFrame(ctx context.Context, e *stream.Event) {
	router := g.factory.router
	switch e.Kind {
	case types.WindowTypeID:
		g.initial.Window(e)
		if !g.budgeted {
			g.budgeted = true
			if e.BudgetID == types.NoBudgetID {
				h := router.Budgets().Acquire(router.IDs().BudgetID())
				if err := router.AttachBudget(g.initial.StreamID(), h); err != nil {
					router.Budgets().Release(h)
					log.Proxy.Warnf(ctx, "[binding] [fan] group budget: %v", err)
				}
			}
		}
		g.flushInitial(ctx)
	case types.ResetTypeID:
		g.closing = true
		g.initial.Release()
		g.segments = nil
		for _, m := range g.members {
			m.resetInitial(ctx)
		}
		g.sweep()
	case types.BeginTypeID:
		g.replied = true
		for _, m := range g.members {
			m.beginReply(ctx)
		}
		if err := router.Window(ctx, g.replyID(), 0, g.factory.window, 0, types.NoBudgetID); err != nil {
			log.Proxy.Warnf(ctx, "[binding] [fan] group reply window: %v", err)
		}
	case types.DataTypeID:
		g.replySeq = e.Sequence + int64(e.Reserved)
		payload := e.Payload.Bytes()
		for _, m := range g.members {
			m.fanout(ctx, payload)
		}
		g.acknowledge(ctx)
	case types.EndTypeID, types.AbortTypeID:
		for _, m := range g.members {
			m.closeReply(ctx, e.Kind)
		}
		g.replied = false
		g.close(ctx, e.Kind)
		g.sweep()
	}
}

func (g *group) OnError(ctx context.Context, streamID int64, err error) {
	log.Proxy.Warnf(ctx, "[binding] [fan] group stream %d torn down: %v", streamID, err)
	g.closing = true
	g.initial.Release()
	g.segments = nil
	for _, m := range g.members {
		m.resetInitial(ctx)
		m.closeReply(ctx, types.AbortTypeID)
	}
	g.sweep()
}

// flushInitial sends pending member data and acknowledges the members
// whose bytes went out.
func (g *group) flushInitial(ctx context.Context) {
	sent, err := g.initial.Flush(ctx, g.factory.router)
	if err != nil {
		log.Proxy.Warnf(ctx, "[binding] [fan] group data: %v", err)
		g.OnError(ctx, g.initial.StreamID(), err)
		return
	}
	for sent > 0 && len(g.segments) > 0 {
		s := &g.segments[0]
		n := s.length
		if n > sent {
			n = sent
		}
		s.length -= n
		sent -= n
		s.member.forwarded(ctx, n)
		if s.length == 0 {
			g.segments = g.segments[1:]
		}
	}
}

func (g *group) push(ctx context.Context, m *member, payload []byte) {
	if g.initial.Closed() || len(payload) == 0 {
		return
	}
	g.initial.Push(payload)
	g.segments = append(g.segments, segment{member: m, length: len(payload)})
	g.flushInitial(ctx)
}

// acknowledge opens the group reply window up to what every member has
// taken.
func (g *group) acknowledge(ctx context.Context) {
	behind := 0
	for _, m := range g.members {
		if pending := m.reply.Pending(); pending > behind {
			behind = pending
		}
	}
	ack := g.replySeq - int64(behind)
	if !g.replied || ack <= g.replyAck {
		return
	}
	if err := g.factory.router.Window(ctx, g.replyID(), ack, g.factory.window, 0, types.NoBudgetID); err != nil {
		if !types.IsRecoverable(err) {
			log.Proxy.Debugf(ctx, "[binding] [fan] group reply window: %v", err)
		}
		return
	}
	g.replyAck = ack
}

// memberDone ends the group initial once no member is left to feed it.
func (g *group) memberDone(ctx context.Context) {
	for _, m := range g.members {
		if !m.initialDone {
			return
		}
	}
	g.close(ctx, types.EndTypeID)
}

func (g *group) close(ctx context.Context, kind int32) {
	if g.closing {
		return
	}
	g.closing = true
	g.initial.Close(kind)
	g.flushInitial(ctx)
}

// sweep forgets members that are done in both directions.
func (g *group) sweep() {
	members := g.members[:0]
	for _, m := range g.members {
		if !m.initialDone || !m.reply.Closed() {
			members = append(members, m)
		}
	}
	for i := len(members); i < len(g.members); i++ {
		g.members[i] = nil
	}
	g.members = members
}
