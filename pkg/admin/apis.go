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

package admin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	mlog "mosn.io/pkg/log"

	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

const migrateTimeout = 5 * time.Second

var levelNames = map[mlog.Level]string{
	mlog.FATAL: "FATAL",
	mlog.ERROR: "ERROR",
	mlog.WARN:  "WARN",
	mlog.INFO:  "INFO",
	mlog.DEBUG: "DEBUG",
	mlog.TRACE: "TRACE",
}

const errMsgFmt = `{
	"error": "%s"
}
`

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, errMsgFmt, msg)
}

func allow(w http.ResponseWriter, r *http.Request, api string, method string) bool {
	if r.Method == method {
		return true
	}
	log.DefaultLogger.Alertf(types.ErrorKeyAdmin, "api: %s, error: invalid method: %s", api, r.Method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	buf, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func Help(s *Server, w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	buf.WriteString("supported APIs:\n")
	for _, key := range patterns() {
		buf.WriteString(key)
		buf.WriteRune('\n')
	}
	w.Write(buf.Bytes())
}

func ConfigDump(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "config dump", http.MethodGet) {
		return
	}
	log.DefaultLogger.Debugf("[admin api] [config dump] config dump")
	writeJSON(w, s.engine.Config())
}

// StatsDump writes one line per metric, "type[k=v,...] key:value",
// restricted to a metrics type by the key parameter.
func StatsDump(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "stats dump", http.MethodGet) {
		return
	}
	filter := r.URL.Query().Get("key")
	var lines []string
	for _, m := range s.engine.Store().GetAll() {
		if filter != "" && m.Type() != filter {
			continue
		}
		keys, values := m.SortedLabels()
		pairs := make([]string, len(keys))
		for i := range keys {
			pairs[i] = keys[i] + "=" + values[i]
		}
		prefix := fmt.Sprintf("%s[%s]", m.Type(), strings.Join(pairs, ","))
		m.Each(func(key string, i interface{}) {
			switch metric := i.(type) {
			case gometrics.Counter:
				lines = append(lines, fmt.Sprintf("%s %s:%d", prefix, key, metric.Count()))
			case gometrics.Gauge:
				lines = append(lines, fmt.Sprintf("%s %s:%d", prefix, key, metric.Value()))
			}
		})
	}
	if filter != "" && len(lines) == 0 {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "no metrics key: %s", filter)
		return
	}
	sort.Strings(lines)
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		io.WriteString(w, line+"\n")
	}
}

type WorkerState struct {
	Index       int   `json:"index"`
	Stopped     bool  `json:"stopped"`
	Streams     int64 `json:"streams"`
	Flows       int64 `json:"flows"`
	HeldBudgets int64 `json:"held_budgets"`
}

type RingState struct {
	Name     string  `json:"name"`
	Capacity int     `json:"capacity"`
	Tail     int64   `json:"tail"`
	Head     int64   `json:"head"`
	Size     int64   `json:"size"`
	Spies    []int64 `json:"spies,omitempty"`
}

type EngineState struct {
	Workers []WorkerState `json:"workers"`
	Rings   []RingState   `json:"rings"`
}

func GetState(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "states", http.MethodGet) {
		return
	}
	writeJSON(w, snapshot(s.engine))
}

func snapshot(e *engine.Engine) EngineState {
	workers := e.Workers()
	state := EngineState{
		Workers: make([]WorkerState, 0, len(workers)),
		Rings:   make([]RingState, 0, len(workers)*len(workers)),
	}
	for _, wk := range workers {
		state.Workers = append(state.Workers, WorkerState{
			Index:       wk.Index(),
			Stopped:     wk.Stopped(),
			Streams:     wk.Streams(),
			Flows:       wk.Flows(),
			HeldBudgets: wk.HeldBudgets(),
		})
	}
	for from := range workers {
		for to := range workers {
			rb := e.Ring(from, to)
			rs := rb.State()
			state.Rings = append(state.Rings, RingState{
				Name:     rb.Name(),
				Capacity: rs.Capacity,
				Tail:     rs.Tail,
				Head:     rs.Head,
				Size:     rs.Size(),
				Spies:    rs.Spies,
			})
		}
	}
	return state
}

// LogLevelData is the body of update_loglevel and the reply of get_loglevel.
type LogLevelData struct {
	LogLevel string `json:"log_level"`
}

func UpdateLogLevel(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "update log level", http.MethodPost) {
		return
	}
	var data LogLevelData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	level := strings.ToUpper(data.LogLevel)
	lv, ok := levelFor(level)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown log level "+data.LogLevel)
		return
	}
	log.DefaultLogger.SetLogLevel(lv)
	log.Proxy.SetLogLevel(lv)
	log.DefaultLogger.Infof("[admin api] [update loglevel] log level set to %s", level)
	writeJSON(w, LogLevelData{LogLevel: level})
}

func levelFor(name string) (mlog.Level, bool) {
	for lv, n := range levelNames {
		if n == name {
			return lv, true
		}
	}
	return 0, false
}

func GetLogLevel(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "get log level", http.MethodGet) {
		return
	}
	writeJSON(w, LogLevelData{LogLevel: levelNames[log.DefaultLogger.GetLogLevel()]})
}

// MigrateBudgetData is the body of migrate_budget.
type MigrateBudgetData struct {
	From     int   `json:"from"`
	To       int   `json:"to"`
	BudgetID int64 `json:"budget_id"`
}

func MigrateBudget(s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, "migrate budget", http.MethodPost) {
		return
	}
	var data MigrateBudgetData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), migrateTimeout)
	defer cancel()
	if err := s.engine.MigrateBudget(ctx, data.From, data.To, data.BudgetID); err != nil {
		log.DefaultLogger.Alertf(types.ErrorKeyAdmin, "api: migrate budget, error: %v", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, data)
}
