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

// Matcher excludes metrics from the store. Excluded counters and gauges
// are nil metrics, so code that updates them needs no checks.
type Matcher struct {
	RejectAll bool     `json:"reject_all,omitempty"`
	Labels    []string `json:"exclude_labels,omitempty"`
	Keys      []string `json:"exclude_keys,omitempty"`
}

// excludesLabels reports whether any label of a metrics is excluded.
func (m Matcher) excludesLabels(labels map[string]string) bool {
	if m.RejectAll {
		return true
	}
	for _, label := range m.Labels {
		if _, ok := labels[label]; ok {
			return true
		}
	}
	return false
}

func (m Matcher) excludesKey(key string) bool {
	if m.RejectAll {
		return true
	}
	for _, k := range m.Keys {
		if k == key {
			return true
		}
	}
	return false
}
