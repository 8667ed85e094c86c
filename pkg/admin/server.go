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

// Package admin serves the engine state over http: configuration, counters,
// worker and ring positions, log levels and budget migration.
package admin

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	storeMutex sync.RWMutex
	// apiHandlerStore stores the supported admin api
	apiHandlerStore = map[string]*APIHandler{
		"/api/v1/config_dump":     NewAPIHandler(ConfigDump, nil),
		"/api/v1/stats":           NewAPIHandler(StatsDump, nil),
		"/api/v1/states":          NewAPIHandler(GetState, nil),
		"/api/v1/update_loglevel": NewAPIHandler(UpdateLogLevel, nil),
		"/api/v1/get_loglevel":    NewAPIHandler(GetLogLevel, nil),
		"/api/v1/migrate_budget":  NewAPIHandler(MigrateBudget, nil),
	}
)

// RegisterAdminHandler registers an api served by every Server created
// afterwards.
func RegisterAdminHandler(pattern string, handler *APIHandler) {
	storeMutex.Lock()
	defer storeMutex.Unlock()
	apiHandlerStore[pattern] = handler
	log.DefaultLogger.Infof("[admin] [register api] register a new api %s", pattern)
}

// DeleteRegisteredAdminHandler deletes a registered pattern
func DeleteRegisteredAdminHandler(pattern string) {
	storeMutex.Lock()
	defer storeMutex.Unlock()
	delete(apiHandlerStore, pattern)
	log.DefaultLogger.Infof("[admin] [register api] delete registered api %s", pattern)
}

func patterns() []string {
	storeMutex.RLock()
	defer storeMutex.RUnlock()
	keys := make([]string, 0, len(apiHandlerStore))
	for key := range apiHandlerStore {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
	srv    *http.Server
}

func NewServer(e *engine.Engine) *Server {
	s := &Server{engine: e, mux: http.NewServeMux()}
	storeMutex.RLock()
	for pattern, api := range apiHandlerStore {
		s.mux.Handle(pattern, boundHandler{server: s, api: api})
	}
	storeMutex.RUnlock()
	s.mux.Handle("/", boundHandler{server: s, api: NewAPIHandler(Help, nil)})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.mux}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.DefaultLogger.Errorf("[admin] serve %s: %v", addr, err)
		}
	}()
	log.DefaultLogger.Infof("[admin] serving on %s", ln.Addr())
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
