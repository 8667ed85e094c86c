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

package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	jsoniter "github.com/json-iterator/go"

	"github.com/aklivity/zilla-sub038/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EngineConfig make up the dataplane engine: its workers, the rings that
// connect them, flow control defaults and the bindings every worker hosts.
type EngineConfig struct {
	Workers      int               `json:"workers,omitempty"`
	RingCapacity datasize.ByteSize `json:"ring_capacity,omitempty"`
	ShmDir       string            `json:"shm_dir,omitempty"` // empty keeps rings on the heap
	Idle         IdleConfig        `json:"idle,omitempty"`
	Budget       BudgetConfig      `json:"budget,omitempty"`
	Log          LogConfig         `json:"log,omitempty"`
	Metrics      MetricsConfig     `json:"metrics,omitempty"`
	Admin        AdminConfig       `json:"admin,omitempty"`
	Bindings     []BindingConfig   `json:"bindings,omitempty"`
}

// IdleConfig is the back off of a worker that found nothing to read:
// spin, then yield, then park between MinPark and MaxPark.
type IdleConfig struct {
	Spins   int            `json:"spins,omitempty"`
	Yields  int            `json:"yields,omitempty"`
	MinPark DurationConfig `json:"min_park,omitempty"`
	MaxPark DurationConfig `json:"max_park,omitempty"`
}

type BudgetConfig struct {
	DefaultCeiling datasize.ByteSize `json:"default_ceiling,omitempty"`
	Excess         ExcessConfig      `json:"excess,omitempty"`
}

// ExcessConfig decides what happens when a merged child asks for more
// credit than its parent can give: absorb, warn or fail past Limit.
type ExcessConfig struct {
	Mode  string            `json:"mode,omitempty"`
	Limit datasize.ByteSize `json:"limit,omitempty"`
}

type LogConfig struct {
	Output string `json:"output,omitempty"`
	Level  string `json:"level,omitempty"`
}

// MetricsConfig for the counters zone and the prometheus endpoint
type MetricsConfig struct {
	ShmSize      datasize.ByteSize `json:"shm_size,omitempty"`
	Prometheus   string            `json:"prometheus,omitempty"` // listen address, empty disables
	Endpoint     string            `json:"endpoint,omitempty"`
	StatsMatcher metrics.Matcher   `json:"stats_matcher,omitempty"`
}

// AdminConfig for the admin api, served only when Address is set.
type AdminConfig struct {
	Address string `json:"address,omitempty"`
}

// BindingConfig names an adapter instance. Exit is the binding its
// streams are routed on to, for adapters that open streams of their own.
type BindingConfig struct {
	Namespace string              `json:"namespace"`
	Name      string              `json:"name"`
	Type      string              `json:"type"`
	Exit      string              `json:"exit,omitempty"`
	Affinity  []int               `json:"affinity,omitempty"` // workers allowed to accept its streams, empty means all
	Options   jsoniter.RawMessage `json:"options,omitempty"`
}

// QualifiedName is namespace:name, the form Exit refers to.
func (b *BindingConfig) QualifiedName() string {
	return b.Namespace + ":" + b.Name
}

// ExitName qualifies Exit with the binding namespace when it has none.
func (b *BindingConfig) ExitName() string {
	if b.Exit == "" || strings.Contains(b.Exit, ":") {
		return b.Exit
	}
	return b.Namespace + ":" + b.Exit
}

// DecodeOptions unmarshals the adapter specific options into v.
func (b *BindingConfig) DecodeOptions(v interface{}) error {
	if len(b.Options) == 0 {
		return nil
	}
	if err := json.Unmarshal(b.Options, v); err != nil {
		return fmt.Errorf("binding %s options: %v", b.QualifiedName(), err)
	}
	return nil
}

// DurationConfig wraps time.Duration, so time config can be written in
// '300ms' or '1h' format
type DurationConfig struct {
	time.Duration
}

func (d *DurationConfig) UnmarshalJSON(b []byte) (err error) {
	d.Duration, err = time.ParseDuration(strings.Trim(string(b), `"`))
	return
}

func (d DurationConfig) MarshalJSON() (b []byte, err error) {
	return []byte(fmt.Sprintf(`"%s"`, d.String())), nil
}

const (
	DefaultRingCapacity   = 1 * datasize.MB
	DefaultBudgetCeiling  = 64 * datasize.KB
	DefaultMetricsShmSize = 64 * datasize.KB
	DefaultSpins          = 64
	DefaultYields         = 16
	DefaultMinPark        = 50 * time.Microsecond
	DefaultMaxPark        = time.Millisecond

	MaxWorkers = 127
)

// ApplyDefaults fills every unset field.
func (c *EngineConfig) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers > MaxWorkers {
			c.Workers = MaxWorkers
		}
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.Idle.Spins == 0 {
		c.Idle.Spins = DefaultSpins
	}
	if c.Idle.Yields == 0 {
		c.Idle.Yields = DefaultYields
	}
	if c.Idle.MinPark.Duration == 0 {
		c.Idle.MinPark.Duration = DefaultMinPark
	}
	if c.Idle.MaxPark.Duration == 0 {
		c.Idle.MaxPark.Duration = DefaultMaxPark
	}
	if c.Budget.DefaultCeiling == 0 {
		c.Budget.DefaultCeiling = DefaultBudgetCeiling
	}
	if c.Budget.Excess.Mode == "" {
		c.Budget.Excess.Mode = "absorb"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Metrics.ShmSize == 0 {
		c.Metrics.ShmSize = DefaultMetricsShmSize
	}
}
