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
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/config"
	dpctx "github.com/aklivity/zilla-sub038/pkg/context"
	"github.com/aklivity/zilla-sub038/pkg/stream"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// BindingContext is one configured binding as seen by one worker.
type BindingContext struct {
	Config   *config.BindingConfig
	RoutedID int64
	// ExitID routes the streams the binding opens; zero without an exit.
	ExitID int64
	Worker *Worker
}

// Context carries the worker index and the binding id, which OpenFlow
// reports as the origin of new streams.
func (bc *BindingContext) Context() context.Context {
	ctx := dpctx.WithValue(context.Background(), types.ContextKeyWorkerIndex, bc.Worker.Index())
	return dpctx.WithValue(ctx, types.ContextKeyRoutedID, bc.RoutedID)
}

// BindingFactory creates the stream factory of a binding kind on one worker.
type BindingFactory func(bc *BindingContext) (stream.Factory, error)

var (
	bindingsMutex sync.RWMutex
	bindingKinds  = make(map[string]BindingFactory)
)

// RegisterBinding makes kind available to the type field of binding configs.
func RegisterBinding(kind string, factory BindingFactory) {
	bindingsMutex.Lock()
	defer bindingsMutex.Unlock()
	bindingKinds[kind] = factory
}

func GetBinding(kind string) (BindingFactory, error) {
	bindingsMutex.RLock()
	defer bindingsMutex.RUnlock()
	factory, ok := bindingKinds[kind]
	if !ok {
		return nil, errors.Errorf("unknown binding type %q", kind)
	}
	return factory, nil
}

func BindingKinds() []string {
	bindingsMutex.RLock()
	defer bindingsMutex.RUnlock()
	kinds := make([]string, 0, len(bindingKinds))
	for kind := range bindingKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
