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

// Package echo is a binding that replies to every stream with the data
// it receives, honoring the window its peer grants on the reply.
package echo

import (
	"context"

	"github.com/aklivity/zilla-sub038/pkg/binding/outbox"
	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/frame"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

const Kind = "echo"

const DefaultWindow = 8192

type Options struct {
	Window int32 `json:"window,omitempty"`
}

func init() {
	engine.RegisterBinding(Kind, NewFactory)
}

type factory struct {
	window int32
}

func NewFactory(bc *engine.BindingContext) (stream.Factory, error) {
	opts := Options{}
	if err := bc.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &factory{window: opts.Window}, nil
}

func (f *factory) NewStream(ctx context.Context, begin *stream.Event, sender stream.Sender) stream.Handler {
	return &echoStream{
		sender:    sender,
		initialID: begin.StreamID,
		window:    f.window,
		reply:     outbox.New(id.ReplyID(begin.StreamID)),
	}
}

// echoStream acknowledges received data only once it has been echoed, so a
// slow reader of the reply slows the writer of the initial flow.
type echoStream struct {
	sender    stream.Sender
	initialID int64
	window    int32
	acked     int64
	reply     *outbox.Outbox
}

func (s *echoStream) OnFrame(ctx context.Context, e *stream.Event) {
	switch e.Kind {
	case types.BeginTypeID:
		if err := s.sender.Send(ctx, s.reply.StreamID(), types.BeginTypeID, e.Extension.Bytes(), nil); err != nil {
			s.fail(ctx, err)
			return
		}
		if err := s.sender.Window(ctx, s.initialID, 0, s.window, 0, types.NoBudgetID); err != nil {
			s.fail(ctx, err)
		}
	case types.DataTypeID:
		s.reply.Push(e.Payload.Bytes())
		s.flush(ctx)
	case types.FlushTypeID:
		if s.reply.Pending() == 0 {
			s.signal(ctx, s.reply.StreamID(), types.FlushTypeID)
		}
	case types.EndTypeID:
		s.reply.Close(types.EndTypeID)
		s.flush(ctx)
	case types.AbortTypeID:
		s.reply.Close(types.AbortTypeID)
		s.flush(ctx)
	case types.WindowTypeID:
		s.reply.Window(e)
		s.flush(ctx)
	case types.ResetTypeID:
		s.reply.Release()
		s.signal(ctx, s.initialID, types.ResetTypeID)
	}
}

func (s *echoStream) OnError(ctx context.Context, streamID int64, err error) {
	log.Proxy.Debugf(ctx, "[binding] [echo] stream %d torn down: %v", streamID, err)
	s.reply.Release()
}

func (s *echoStream) flush(ctx context.Context) {
	sent, err := s.reply.Flush(ctx, s.sender)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if sent > 0 && !s.reply.Closed() {
		s.acked += int64(sent)
		if err := s.sender.Window(ctx, s.initialID, s.acked, s.window, 0, types.NoBudgetID); err != nil && !types.IsRecoverable(err) {
			log.Proxy.Debugf(ctx, "[binding] [echo] window on %d: %v", s.initialID, err)
		}
	}
}

func (s *echoStream) fail(ctx context.Context, err error) {
	log.Proxy.Warnf(ctx, "[binding] [echo] stream %d: %v", s.initialID, err)
	s.reply.Release()
	s.signal(ctx, s.initialID, types.ResetTypeID)
	s.signal(ctx, s.reply.StreamID(), types.AbortTypeID)
}

// signal sends a frame without payload. The flow may already be gone.
func (s *echoStream) signal(ctx context.Context, streamID int64, kind int32) {
	if err := s.sender.Send(ctx, streamID, kind, nil, nil); err != nil {
		log.Proxy.Debugf(ctx, "[binding] [echo] %s on %d: %v", frame.Name(kind), streamID, err)
	}
}
