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
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/budget"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/ringbuffer"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Load reads a JSON or YAML engine config, applies defaults and validates it.
func Load(path string) (*EngineConfig, error) {
	log.DefaultLogger.Infof("[config] load config from: %s", path)
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return Parse(content, yamlFormat(path))
}

// Parse decodes content, which is YAML when isYAML is set and JSON otherwise.
func Parse(content []byte, isYAML bool) (*EngineConfig, error) {
	if isYAML {
		bytes, err := yaml.YAMLToJSON(content)
		if err != nil {
			return nil, errors.Wrap(err, "translate yaml to json")
		}
		content = bytes
	}
	cfg := &EngineConfig{}
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrap(err, "json unmarshal config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.DefaultLogger.Alertf(types.ErrorKeyConfig, "[config] invalid config: %v", err)
		return nil, err
	}
	return cfg, nil
}

func yamlFormat(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks a config after defaults are applied.
func (c *EngineConfig) Validate() error {
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return errors.Errorf("workers %d: must be 1..%d", c.Workers, MaxWorkers)
	}
	capacity := int64(c.RingCapacity.Bytes())
	if capacity < ringbuffer.MinCapacity || capacity > ringbuffer.MaxCapacity || capacity&(capacity-1) != 0 {
		return errors.Errorf("ring_capacity %s: must be a power of two in [%d, %d]",
			c.RingCapacity.HR(), ringbuffer.MinCapacity, ringbuffer.MaxCapacity)
	}
	if c.Idle.Spins < 0 || c.Idle.Yields < 0 {
		return errors.New("idle spins and yields must not be negative")
	}
	if c.Idle.MinPark.Duration > c.Idle.MaxPark.Duration {
		return errors.Errorf("idle min_park %s exceeds max_park %s", c.Idle.MinPark, c.Idle.MaxPark)
	}
	if _, err := c.ExcessPolicy(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Bindings))
	for i := range c.Bindings {
		b := &c.Bindings[i]
		if b.Namespace == "" || b.Name == "" || b.Type == "" {
			return errors.Errorf("binding %d: namespace, name and type are required", i)
		}
		if names[b.QualifiedName()] {
			return errors.Errorf("binding %s: duplicate", b.QualifiedName())
		}
		names[b.QualifiedName()] = true
		for _, w := range b.Affinity {
			if w < 0 || w >= c.Workers {
				return errors.Errorf("binding %s: affinity worker %d out of range", b.QualifiedName(), w)
			}
		}
	}
	for i := range c.Bindings {
		b := &c.Bindings[i]
		if exit := b.ExitName(); exit != "" && !names[exit] {
			return errors.Errorf("binding %s: unknown exit %s", b.QualifiedName(), exit)
		}
	}
	return nil
}

// ExcessPolicy converts the excess settings for budget managers.
func (c *EngineConfig) ExcessPolicy() (budget.ExcessPolicy, error) {
	mode, err := budget.ParseExcessMode(c.Budget.Excess.Mode)
	if err != nil {
		return budget.ExcessPolicy{}, err
	}
	return budget.ExcessPolicy{Mode: mode, Limit: int64(c.Budget.Excess.Limit.Bytes())}, nil
}

// ParkDurations is the idle back off as plain durations.
func (c *EngineConfig) ParkDurations() (time.Duration, time.Duration) {
	return c.Idle.MinPark.Duration, c.Idle.MaxPark.Duration
}
