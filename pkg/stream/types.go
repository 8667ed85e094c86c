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

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/aklivity/zilla-sub038/pkg/frame"
)

// State of one flow. CLOSED and RESET are terminal.
type State int

const (
	StatePending State = iota
	StateOpen
	StateClosed
	StateReset
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateReset:
		return "RESET"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further frames may flow.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateReset
}

// Event is what an adapter sees of an arriving frame. Extension and
// Payload are views into the transport and are only valid during OnFrame.
type Event struct {
	Kind          int32
	StreamID      int64
	OriginID      int64
	RoutedID      int64
	Sequence      int64
	Acknowledge   int64
	Maximum       int32
	TraceID       int64
	Authorization int64
	BudgetID      int64
	Affinity      int64
	Flags         uint8
	Reserved      int32
	Padding       int32
	SignalID      int32
	Extension     frame.Octets
	Payload       frame.Octets
}

// Handler is implemented by protocol adapters.
type Handler interface {
	// OnFrame is called for every frame arriving on a flow the handler owns.
	OnFrame(ctx context.Context, event *Event)
	// OnError is called when the router tore a flow down because the peer
	// broke the protocol.
	OnError(ctx context.Context, streamID int64, err error)
}

// Factory creates the handler for a stream opened by a remote BEGIN
// routed to it. Returning nil rejects the stream.
type Factory interface {
	NewStream(ctx context.Context, begin *Event, sender Sender) Handler
}

// Sender is the adapter facing half of the router.
type Sender interface {
	OpenFlow(ctx context.Context, routedID int64, authorization int64, handler Handler) (int64, error)
	Send(ctx context.Context, streamID int64, kind int32, extension []byte, payload []byte) error
	SendData(ctx context.Context, streamID int64, flags uint8, extension []byte, payload []byte) error
	Window(ctx context.Context, streamID int64, acknowledge int64, maximum int32, padding int32, budgetID int64) error
}

// pendingFrame is an encoded frame held until its ring has room.
type pendingFrame struct {
	destination int
	typeID      int32
	encoded     []byte
}

// Target accepts encoded frames for one destination worker. Ring buffers
// implement it.
type Target interface {
	Claim(typeID int32, length int) (int, error)
	Commit(index int)
	Abort(index int)
	Buffer() []byte
}

// Metrics counted by a router.
type Metrics struct {
	FramesIn   gometrics.Counter
	FramesOut  gometrics.Counter
	BytesIn    gometrics.Counter
	BytesOut   gometrics.Counter
	Violations gometrics.Counter
	Malformed  gometrics.Counter
	Opened     gometrics.Counter
	Closed     gometrics.Counter
	Dropped    gometrics.Counter
}

// NilMetrics counts nothing.
func NilMetrics() *Metrics {
	return &Metrics{
		FramesIn:   gometrics.NilCounter{},
		FramesOut:  gometrics.NilCounter{},
		BytesIn:    gometrics.NilCounter{},
		BytesOut:   gometrics.NilCounter{},
		Violations: gometrics.NilCounter{},
		Malformed:  gometrics.NilCounter{},
		Opened:     gometrics.NilCounter{},
		Closed:     gometrics.NilCounter{},
		Dropped:    gometrics.NilCounter{},
	}
}
