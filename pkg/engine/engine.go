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
	"golang.org/x/sync/errgroup"
	"mosn.io/pkg/utils"

	"github.com/aklivity/zilla-sub038/pkg/budget"
	"github.com/aklivity/zilla-sub038/pkg/config"
	"github.com/aklivity/zilla-sub038/pkg/id"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/metrics"
	metricsshm "github.com/aklivity/zilla-sub038/pkg/metrics/shm"
	"github.com/aklivity/zilla-sub038/pkg/ringbuffer"
	"github.com/aklivity/zilla-sub038/pkg/shm"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// MetricsZoneName names the shared memory region holding the counters.
const MetricsZoneName = "metrics"

// RingName names the ring carrying frames from worker from to worker to.
func RingName(from int, to int) string {
	return fmt.Sprintf("ring-%d-%d", from, to)
}

// Engine is a set of workers fully connected by ring buffers, one per
// ordered pair of workers, with every configured binding routed on each.
type Engine struct {
	config  *config.EngineConfig
	rings   [][]*ringbuffer.RingBuffer
	spans   []*shm.ShmSpan
	workers []*Worker
	store   *metrics.Store
	zone    *shm.ShmSpan
	routes  map[string]int64
	stats   []*metrics.Metrics
	closed  atomic.Bool
}

// New lays out the rings, creates the workers and attaches every binding
// to every worker. Binding types must be registered with RegisterBinding.
func New(cfg *config.EngineConfig) (*Engine, error) {
	e := &Engine{
		config: cfg,
		routes: make(map[string]int64),
	}
	if err := e.build(); err != nil {
		if released := e.release(); released != nil {
			log.DefaultLogger.Errorf("[engine] release after failed start: %v", released)
		}
		return nil, err
	}
	log.DefaultLogger.Infof("[engine] %d workers, ring capacity %s, %d bindings",
		cfg.Workers, cfg.RingCapacity.HR(), len(cfg.Bindings))
	return e, nil
}

func (e *Engine) build() error {
	cfg := e.config
	if err := e.newZone(); err != nil {
		return err
	}
	if err := e.newRings(); err != nil {
		return err
	}

	policy, err := cfg.ExcessPolicy()
	if err != nil {
		return err
	}
	ceiling := int64(cfg.Budget.DefaultCeiling.Bytes())
	minPark, maxPark := cfg.ParkDurations()
	for i := 0; i < cfg.Workers; i++ {
		inbound := make([]*ringbuffer.RingBuffer, cfg.Workers)
		for j := range inbound {
			inbound[j] = e.rings[j][i]
		}
		budgets := budget.NewManager(fmt.Sprintf("worker-%d", i), ceiling, policy)
		idle := NewBackoffIdle(cfg.Idle.Spins, cfg.Idle.Yields, minPark, maxPark)
		w := newWorker(context.Background(), i, budgets, idle, inbound, e.rings[i])
		m, err := newWorkerMetrics(e.store, w)
		if err != nil {
			return err
		}
		e.stats = append(e.stats, m)
		e.workers = append(e.workers, w)
	}
	return e.attachBindings()
}

func (e *Engine) newZone() error {
	size := int(e.config.Metrics.ShmSize.Bytes())
	var span *shm.ShmSpan
	if dir := e.config.ShmDir; dir != "" {
		mapped, err := shm.Alloc(dir, MetricsZoneName, size)
		if err != nil {
			return errors.Wrap(err, "metrics zone")
		}
		span = mapped
	} else {
		span = shm.NewHeapSpan(MetricsZoneName, size)
	}
	e.zone = span

	zone, err := metricsshm.NewZone(span)
	if err != nil {
		return err
	}
	e.store = metrics.NewStore(zone)
	e.store.SetMatcher(e.config.Metrics.StatsMatcher)
	return nil
}

func (e *Engine) newRings() error {
	n := e.config.Workers
	size := ringbuffer.RegionSize(int(e.config.RingCapacity.Bytes()))
	e.rings = make([][]*ringbuffer.RingBuffer, n)
	for i := 0; i < n; i++ {
		e.rings[i] = make([]*ringbuffer.RingBuffer, n)
		for j := 0; j < n; j++ {
			name := RingName(i, j)
			var span *shm.ShmSpan
			if dir := e.config.ShmDir; dir != "" {
				mapped, err := shm.Alloc(dir, name, size)
				if err != nil {
					return errors.Wrapf(err, "ring %s", name)
				}
				span = mapped
			} else {
				span = shm.NewHeapSpan(name, size)
			}
			e.spans = append(e.spans, span)

			rb, err := ringbuffer.New(name, span.Origin())
			if err != nil {
				return err
			}
			e.rings[i][j] = rb
		}
	}
	return nil
}

// attachBindings numbers namespaces and bindings in config order and
// routes every binding on every worker.
func (e *Engine) attachBindings() error {
	namespaces := make(map[string]int32)
	locals := make(map[string]int32)
	masks := make(map[int64][]int)
	for i := range e.config.Bindings {
		b := &e.config.Bindings[i]
		ns, ok := namespaces[b.Namespace]
		if !ok {
			ns = int32(len(namespaces) + 1)
			namespaces[b.Namespace] = ns
		}
		locals[b.Namespace]++
		routedID := id.NamespacedID(ns, locals[b.Namespace])
		e.routes[b.QualifiedName()] = routedID
		if mask := affinityMask(b.Affinity); mask != nil {
			masks[routedID] = mask
		}
	}

	for _, w := range e.workers {
		w.router.SetResolver(newResolver(w.index, len(e.workers), masks).Resolver())
		for i := range e.config.Bindings {
			b := &e.config.Bindings[i]
			newFactory, err := GetBinding(b.Type)
			if err != nil {
				return errors.Wrapf(err, "binding %s", b.QualifiedName())
			}
			bc := &BindingContext{
				Config:   b,
				RoutedID: e.routes[b.QualifiedName()],
				ExitID:   e.routes[b.ExitName()],
				Worker:   w,
			}
			factory, err := newFactory(bc)
			if err != nil {
				return errors.Wrapf(err, "binding %s on worker %d", b.QualifiedName(), w.index)
			}
			w.router.Route(bc.RoutedID, factory)
		}
	}
	return nil
}

func (e *Engine) Config() *config.EngineConfig {
	return e.config
}

func (e *Engine) Workers() []*Worker {
	return e.workers
}

func (e *Engine) Worker(index int) *Worker {
	return e.workers[index]
}

func (e *Engine) Store() *metrics.Store {
	return e.store
}

// Ring is the ring carrying frames from worker from to worker to.
func (e *Engine) Ring(from int, to int) *ringbuffer.RingBuffer {
	return e.rings[from][to]
}

// RoutedID is the id streams use to reach the binding "namespace:name".
func (e *Engine) RoutedID(qualifiedName string) (int64, bool) {
	routedID, ok := e.routes[qualifiedName]
	return routedID, ok
}

// Run drives every worker on its own goroutine until ctx is done or a
// worker fails; a failure stops the others.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed.Load() {
		return errors.New("engine closed")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		w := w
		g.Go(func() error {
			done := make(chan error, 1)
			utils.GoWithRecover(func() {
				done <- w.run(ctx)
			}, func(r interface{}) {
				done <- errors.Errorf("worker %d panic: %v", w.index, r)
			})
			return <-done
		})
	}
	return g.Wait()
}

// DoWork makes one pass over every worker on the calling goroutine. It
// drives an engine that is not running, as tests and tools do.
func (e *Engine) DoWork() int {
	work := 0
	for _, w := range e.workers {
		work += w.DoWork()
	}
	return work
}

// MigrateBudget moves budgetID, with its children, from one worker to
// another. Both workers must be running.
func (e *Engine) MigrateBudget(ctx context.Context, from int, to int, budgetID int64) error {
	if from < 0 || from >= len(e.workers) || to < 0 || to >= len(e.workers) {
		return errors.Wrapf(types.ErrWorkerNotAvailable, "migrate budget %d from %d to %d", budgetID, from, to)
	}
	var exported budget.Account
	err := e.workers[from].Call(ctx, func(w *Worker) error {
		h, ok := w.budgets.Lookup(budgetID)
		if !ok {
			return errors.Wrapf(types.ErrUnknownBudget, "budget %d on worker %d", budgetID, from)
		}
		var err error
		exported, err = w.budgets.Export(h)
		return err
	})
	if err != nil {
		return err
	}

	err = e.workers[to].Call(ctx, func(w *Worker) error {
		_, err := w.budgets.Import(exported)
		return err
	})
	if err != nil {
		log.DefaultLogger.Errorf("[engine] migrate budget %d to worker %d: %v, restoring on worker %d", budgetID, to, err, from)
		if restore := e.workers[from].Submit(func(w *Worker) {
			if _, err := w.budgets.Import(exported); err != nil {
				log.DefaultLogger.Alertf(types.ErrorKeyBudget, "[engine] budget %d lost: %v", budgetID, err)
			}
		}); restore != nil {
			log.DefaultLogger.Alertf(types.ErrorKeyBudget, "[engine] budget %d lost: %v", budgetID, restore)
		}
		return err
	}
	log.DefaultLogger.Infof("[engine] budget %d migrated from worker %d to %d", budgetID, from, to)
	return nil
}

// Close reports what the workers still hold and releases the rings and
// the metrics zone. Call it once Run has returned.
func (e *Engine) Close() error {
	if !e.closed.CAS(false, true) {
		return nil
	}
	for _, w := range e.workers {
		w.stopped.Store(true)
		if streams, budgets := w.leaks(); streams != 0 || budgets != 0 {
			log.DefaultLogger.Warnf("[engine] [worker %d] closed with %d streams and %d budgets", w.index, streams, budgets)
		}
	}
	for _, m := range e.stats {
		m.UnregisterAll()
	}
	return e.release()
}

func (e *Engine) release() error {
	var first error
	free := func(span *shm.ShmSpan) {
		if e.config.ShmDir == "" {
			return
		}
		if err := shm.Free(span); err != nil && first == nil {
			first = err
		}
	}
	for _, span := range e.spans {
		free(span)
	}
	e.spans = nil
	if e.zone != nil {
		free(e.zone)
		e.zone = nil
	}
	return first
}
