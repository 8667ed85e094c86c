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

package prometheus

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/metrics"
)

const namespace = "dataplane"

// Config of the prometheus sink.
type Config struct {
	Endpoint string `json:"endpoint,omitempty"`

	DisableCollectProcess bool `json:"disable_collect_process,omitempty"`
	DisableCollectGo      bool `json:"disable_collect_go,omitempty"`
	DisablePassiveFlush   bool `json:"disable_passive_flush,omitempty"`
}

// Sink copies a metrics store into prometheus gauges, on every scrape
// unless passive flush is disabled.
type Sink struct {
	config Config
	store  *metrics.Store

	mutex     sync.Mutex
	registry  *prometheus.Registry
	gaugeVecs map[string]*prometheus.GaugeVec
}

type promHttpExporter struct {
	sink *Sink
	real http.Handler
}

func (exporter *promHttpExporter) ServeHTTP(rsp http.ResponseWriter, req *http.Request) {
	if !exporter.sink.config.DisablePassiveFlush {
		exporter.sink.Flush()
	}
	exporter.real.ServeHTTP(rsp, req)
}

func NewSink(store *metrics.Store, config Config) *Sink {
	if config.Endpoint == "" {
		config.Endpoint = "/metrics"
	}
	promReg := prometheus.NewRegistry()
	if !config.DisableCollectProcess {
		promReg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	if !config.DisableCollectGo {
		promReg.MustRegister(prometheus.NewGoCollector())
	}
	return &Sink{
		config:    config,
		store:     store,
		registry:  promReg,
		gaugeVecs: make(map[string]*prometheus.GaugeVec),
	}
}

// Handler serves the scrape endpoint.
func (sink *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(sink.config.Endpoint, &promHttpExporter{
		sink: sink,
		real: promhttp.HandlerFor(sink.registry, promhttp.HandlerOpts{}),
	})
	return mux
}

func (sink *Sink) Registry() *prometheus.Registry {
	return sink.registry
}

// Flush copies the current value of every metric into its gauge.
func (sink *Sink) Flush() {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()

	for _, m := range sink.store.GetAll() {
		typ := m.Type()
		labelKeys, labelVals := m.SortedLabels()

		m.Each(func(name string, i interface{}) {
			switch metric := i.(type) {
			case gometrics.Counter:
				sink.set(typ, labelKeys, labelVals, name, float64(metric.Count()))
			case gometrics.Gauge:
				sink.set(typ, labelKeys, labelVals, name, float64(metric.Value()))
			case gometrics.Histogram:
				snap := metric.Snapshot()
				sink.set(typ, labelKeys, labelVals, name+"_max", float64(snap.Max()))
				sink.set(typ, labelKeys, labelVals, name+"_min", float64(snap.Min()))
			}
		})
	}
}

func (sink *Sink) set(typ string, labelKeys, labelVals []string, name string, value float64) {
	if g := sink.gauge(typ, labelKeys, name); g != nil {
		g.WithLabelValues(labelVals...).Set(value)
	}
}

func (sink *Sink) gauge(typ string, labelKeys []string, name string) *prometheus.GaugeVec {
	key := typ + "_" + name + "/" + strings.Join(labelKeys, ",")
	g, ok := sink.gaugeVecs[key]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: flattenKey(typ),
			Name:      flattenKey(name),
		}, labelKeys)
		if err := sink.registry.Register(g); err != nil {
			log.DefaultLogger.Warnf("[metrics] [prometheus] skip %s: %v", key, err)
			g = nil
		}
		sink.gaugeVecs[key] = g
	}
	return g
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_").Replace(key)
}
