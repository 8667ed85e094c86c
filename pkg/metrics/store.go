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

package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/metrics/shm"
)

const MaxLabelCount = 20

var ErrLabelCountExceeded = fmt.Errorf("label count exceeded, max is %d", MaxLabelCount)

// Store holds every Metrics of one engine. Counters live in the zone when
// there is one, so tools can read them from outside the process.
type Store struct {
	zone    *shm.Zone
	matcher Matcher

	metrics map[string]*Metrics
	mutex   sync.RWMutex
}

// Metrics is a go-metrics registry for one (type, labels) pair. The scope
// is the namespaced id the counters are filed under in the zone.
type Metrics struct {
	store *Store

	typ    string
	scope  int64
	labels map[string]string

	prefix    string
	labelKeys []string
	labelVals []string

	excluded bool
	registry gometrics.Registry
}

// NewStore creates a store; zone may be nil for heap counters.
func NewStore(zone *shm.Zone) *Store {
	return &Store{
		zone:    zone,
		metrics: make(map[string]*Metrics, 16),
	}
}

func (s *Store) Zone() *shm.Zone {
	return s.zone
}

// SetMatcher applies to metrics created afterwards; keys are checked on
// every lookup.
func (s *Store) SetMatcher(matcher Matcher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.matcher = matcher
}

// NewMetrics returns the metrics of typ and labels, creating it on first
// use; scope only applies to the first call.
func (s *Store) NewMetrics(typ string, scope int64, labels map[string]string) (*Metrics, error) {
	if len(labels) > MaxLabelCount {
		return nil, ErrLabelCountExceeded
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	name, keys, values := fullName(typ, labels)
	if m, ok := s.metrics[name]; ok {
		return m, nil
	}

	stats := &Metrics{
		store:     s,
		typ:       typ,
		scope:     scope,
		labels:    labels,
		labelKeys: keys,
		labelVals: values,
		prefix:    typ + ".",
		excluded:  s.matcher.excludesLabels(labels),
		registry:  gometrics.NewRegistry(),
	}

	s.metrics[name] = stats
	return stats, nil
}

// GetAll returns all metrics ordered by name.
func (s *Store) GetAll() []*Metrics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	all := make([]*Metrics, 0, len(names))
	for _, name := range names {
		all = append(all, s.metrics[name])
	}
	return all
}

// ResetAll drops every metrics; zone entries stay allocated.
func (s *Store) ResetAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, m := range s.metrics {
		m.registry.UnregisterAll()
	}
	s.metrics = make(map[string]*Metrics, 16)
	s.matcher = Matcher{}
}

func (s *Store) excludesKey(key string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.matcher.excludesKey(key)
}

func (m *Metrics) Type() string {
	return m.typ
}

func (m *Metrics) Scope() int64 {
	return m.scope
}

func (m *Metrics) Labels() map[string]string {
	return m.labels
}

func (m *Metrics) SortedLabels() (keys, values []string) {
	return m.labelKeys, m.labelVals
}

// Counter returns the counter named key, backed by the zone when the
// store has one and it is not full.
func (m *Metrics) Counter(key string) gometrics.Counter {
	if m.excluded || m.store.excludesKey(key) {
		return gometrics.NilCounter{}
	}
	return m.registry.GetOrRegister(key, func() gometrics.Counter {
		if zone := m.store.zone; zone != nil {
			counter, err := zone.Counter(m.scope, m.prefix+key)
			if err == nil {
				return counter
			}
			log.DefaultLogger.Warnf("[metrics] counter %s%s falls back to heap: %v", m.prefix, key, err)
		}
		return gometrics.NewCounter()
	}).(gometrics.Counter)
}

func (m *Metrics) Gauge(key string) gometrics.Gauge {
	if m.excluded || m.store.excludesKey(key) {
		return gometrics.NilGauge{}
	}
	return m.registry.GetOrRegister(key, gometrics.NewGauge).(gometrics.Gauge)
}

// FunctionalGauge registers a gauge computed by fn on every read. fn is
// called from the exporter goroutine.
func (m *Metrics) FunctionalGauge(key string, fn func() int64) gometrics.Gauge {
	if m.excluded || m.store.excludesKey(key) {
		return gometrics.NilGauge{}
	}
	return m.registry.GetOrRegister(key, gometrics.NewFunctionalGauge(fn)).(gometrics.Gauge)
}

func (m *Metrics) Each(f func(string, interface{})) {
	m.registry.Each(f)
}

func (m *Metrics) UnregisterAll() {
	m.registry.UnregisterAll()
}

func sortedLabels(labels map[string]string) (keys, values []string) {
	keys = make([]string, 0, len(labels))
	values = make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values = append(values, labels[k])
	}
	return
}

func fullName(typ string, labels map[string]string) (fullName string, keys, values []string) {
	keys, values = sortedLabels(labels)

	pair := make([]string, 0, len(keys))
	for i := 0; i < len(keys); i++ {
		pair = append(pair, keys[i]+"."+values[i])
	}
	fullName = typ + "." + strings.Join(pair, ".")
	return
}
