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

package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/aklivity/zilla-sub038/pkg/budget"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/ringbuffer"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

const (
	// records read from one inbound ring per pass
	readLimit = 64

	commandQueueSize = 256
)

var (
	ErrQueueFull     = errors.New("worker command queue full")
	ErrWorkerStopped = errors.New("worker stopped")
)

// Command runs on the worker goroutine between two passes over the rings.
type Command func(w *Worker)

// Worker owns one router, its budgets and the rings that end at it. Only
// the goroutine running the worker touches the router; everything else
// reaches it through Submit or Call.
type Worker struct {
	index    int
	router   *stream.Router
	budgets  *budget.Manager
	inbound  []*ringbuffer.RingBuffer
	outbound []*ringbuffer.RingBuffer
	idle     *BackoffIdle
	commands chan Command

	running atomic.Bool
	stopped atomic.Bool
	passes  atomic.Int64
	streams atomic.Int64
	flows   atomic.Int64
	held    atomic.Int64
}

func newWorker(ctx context.Context, index int, budgets *budget.Manager, idle *BackoffIdle, inbound, outbound []*ringbuffer.RingBuffer) *Worker {
	w := &Worker{
		index:    index,
		budgets:  budgets,
		inbound:  inbound,
		outbound: outbound,
		idle:     idle,
		commands: make(chan Command, commandQueueSize),
	}
	w.router = stream.NewRouter(ctx, index, budgets, w.target)
	return w
}

func (w *Worker) target(index int) (stream.Target, error) {
	if index < 0 || index >= len(w.outbound) {
		return nil, errors.Wrapf(types.ErrWorkerNotAvailable, "worker %d", index)
	}
	return w.outbound[index], nil
}

func (w *Worker) Index() int {
	return w.index
}

func (w *Worker) Router() *stream.Router {
	return w.router
}

func (w *Worker) Budgets() *budget.Manager {
	return w.budgets
}

// Streams, Flows and HeldBudgets are published after every pass and may be
// read from any goroutine.
func (w *Worker) Streams() int64 {
	return w.streams.Load()
}

func (w *Worker) Flows() int64 {
	return w.flows.Load()
}

func (w *Worker) HeldBudgets() int64 {
	return w.held.Load()
}

// Stopped reports a worker halted by corruption.
func (w *Worker) Stopped() bool {
	return w.stopped.Load()
}

// Submit queues cmd for the worker goroutine without waiting for it.
func (w *Worker) Submit(cmd Command) error {
	if w.stopped.Load() {
		return ErrWorkerStopped
	}
	select {
	case w.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call runs fn on the worker goroutine and waits for its result.
func (w *Worker) Call(ctx context.Context, fn func(w *Worker) error) error {
	done := make(chan error, 1)
	if err := w.Submit(func(w *Worker) { done <- fn(w) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWork makes one pass: queued commands first, then frames the router
// holds for full rings, then every inbound ring. It returns the number of
// commands, frames and records handled.
func (w *Worker) DoWork() int {
	work := 0
	for draining := true; draining; {
		select {
		case cmd := <-w.commands:
			cmd(w)
			work++
		default:
			draining = false
		}
	}
	work += w.router.FlushPending()
	for _, rb := range w.inbound {
		work += rb.Read(w.router.OnRecord, readLimit)
	}
	w.publish()
	return work
}

func (w *Worker) publish() {
	w.passes.Inc()
	w.streams.Store(int64(w.router.Registry().Streams()))
	w.flows.Store(int64(w.router.Registry().Flows()))
	w.held.Store(int64(w.budgets.Acquired()))
}

// run drives the worker until ctx is done. A corrupted ring ends it with
// a *types.CorruptionError.
func (w *Worker) run(ctx context.Context) (err error) {
	if !w.running.CAS(false, true) {
		return fmt.Errorf("worker %d already running", w.index)
	}
	defer w.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			corruption, ok := r.(*types.CorruptionError)
			if !ok {
				panic(r)
			}
			w.stopped.Store(true)
			log.DefaultLogger.Alertf(types.ErrorKeyCorruption, "[engine] [worker %d] stopped: %v", w.index, corruption)
			err = corruption
		}
	}()

	log.DefaultLogger.Infof("[engine] [worker %d] started, %d inbound rings", w.index, len(w.inbound))
	for {
		select {
		case <-ctx.Done():
			log.DefaultLogger.Infof("[engine] [worker %d] stopped after %d passes", w.index, w.passes.Load())
			return nil
		default:
		}
		w.idle.Idle(w.DoWork())
	}
}

// leaks reports streams and budgets still held, for Close.
func (w *Worker) leaks() (streams int, budgets int) {
	return w.router.Registry().Streams(), w.budgets.Acquired()
}
