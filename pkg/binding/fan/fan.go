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

// Package fan is a binding that merges the streams routed to it into one
// group stream toward its exit and copies the group reply to every member.
package fan

import (
	"context"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/binding/outbox"
	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

const Kind = "fan"

const DefaultWindow = 8192

type Options struct {
	// Window granted to every member and to the group reply.
	Window int32 `json:"window,omitempty"`
	// Ceiling bounds the reply bytes in flight across all members; zero
	// keeps the worker default.
	Ceiling datasize.ByteSize `json:"ceiling,omitempty"`
}

func init() {
	engine.RegisterBinding(Kind, NewFactory)
}

type factory struct {
	bc      *engine.BindingContext
	ctx     context.Context
	router  *stream.Router
	window  int32
	ceiling int64
	group   *group
}

func NewFactory(bc *engine.BindingContext) (stream.Factory, error) {
	if bc.ExitID == 0 {
		return nil, errors.Errorf("fan binding %s has no exit", bc.Config.QualifiedName())
	}
	opts := Options{}
	if err := bc.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &factory{
		bc:      bc,
		ctx:     bc.Context(),
		router:  bc.Worker.Router(),
		window:  opts.Window,
		ceiling: int64(opts.Ceiling.Bytes()),
	}, nil
}

func (f *factory) NewStream(ctx context.Context, begin *stream.Event, sender stream.Sender) stream.Handler {
	if f.group == nil || f.group.closing {
		g, err := f.newGroup(begin.Authorization)
		if err != nil {
			log.Proxy.Warnf(ctx, "[binding] [fan] %s: open group: %v", f.bc.Config.QualifiedName(), err)
			return nil
		}
		f.group = g
	}
	return f.group.newMember(begin.StreamID)
}

func (f *factory) newGroup(authorization int64) (*group, error) {
	g := &group{
		factory:  f,
		fanoutID: f.router.IDs().BudgetID(),
	}
	initialID, err := f.router.OpenFlow(f.ctx, f.bc.ExitID, authorization, g)
	if err != nil {
		return nil, err
	}
	g.initial = outbox.New(initialID)
	if err := f.router.Send(f.ctx, initialID, types.BeginTypeID, nil, nil); err != nil {
		if abortErr := f.router.Send(f.ctx, initialID, types.AbortTypeID, nil, nil); abortErr != nil {
			log.DefaultLogger.Debugf("[binding] [fan] abort group %d: %v", initialID, abortErr)
		}
		return nil, err
	}
	log.DefaultLogger.Debugf("[binding] [fan] %s: group %d opened on worker %d",
		f.bc.Config.QualifiedName(), initialID, f.router.Index())
	return g, nil
}
