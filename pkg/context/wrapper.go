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

package context

import (
	"context"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// valueCtx keeps the built-in keys in a fixed array so a worker can
// annotate a context per frame without allocating a chain of parents.
type valueCtx struct {
	context.Context

	builtin [types.ContextKeyEnd]interface{}
}

func (c *valueCtx) Value(key interface{}) interface{} {
	if contextKey, ok := key.(types.ContextKey); ok {
		return c.builtin[contextKey]
	}
	return c.Context.Value(key)
}

func Get(ctx context.Context, key types.ContextKey) interface{} {
	if dpCtx, ok := ctx.(*valueCtx); ok {
		return dpCtx.builtin[key]
	}
	return ctx.Value(key)
}

// WithValue add the given key-value pair into the existed value context, or create a new value context which contains the pair.
// This Function should not be used along with the official context.WithValue !!
func WithValue(parent context.Context, key types.ContextKey, value interface{}) context.Context {
	if dpCtx, ok := parent.(*valueCtx); ok {
		dpCtx.builtin[key] = value
		return dpCtx
	}

	dpCtx := &valueCtx{Context: parent}
	dpCtx.builtin[key] = value
	return dpCtx
}

// Clone copy the origin value context(if it is), and return new one
func Clone(parent context.Context) context.Context {
	if dpCtx, ok := parent.(*valueCtx); ok {
		clone := &valueCtx{Context: dpCtx.Context}
		clone.builtin = dpCtx.builtin
		return clone
	}
	return parent
}

// WithFrame annotates ctx with the stream and trace of the frame being handled.
func WithFrame(parent context.Context, streamID int64, traceID int64) context.Context {
	ctx := WithValue(parent, types.ContextKeyStreamID, streamID)
	return WithValue(ctx, types.ContextKeyTraceID, traceID)
}
