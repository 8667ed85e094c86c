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

package log

import (
	"context"
	"errors"
	"strconv"

	"mosn.io/pkg/log"

	dpctx "github.com/aklivity/zilla-sub038/pkg/context"
	"github.com/aklivity/zilla-sub038/pkg/types"
)

// proxyLogger is a default implementation of ContextLogger
// context will add worker and trace info into formatter
type proxyLogger struct {
	*errorLogger
}

func CreateDefaultContextLogger(output string, level log.Level) (log.ContextLogger, error) {
	lg, err := GetOrCreateDefaultErrorLogger(output, level)
	if err != nil {
		return nil, err
	}
	if l, ok := lg.(*errorLogger); ok {
		return &proxyLogger{l}, nil
	}
	return nil, errors.New("proxy logger should equal default error log")
}

func (l *proxyLogger) formatter(ctx context.Context, lv, alert, format string) string {
	return log.DefaultFormatter(lv, alert, traceInfo(ctx)+" "+format)
}

func (l *proxyLogger) Tracef(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.TRACE {
		l.Printf(l.formatter(ctx, log.TracePre, "", format), args...)
	}
}

func (l *proxyLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.INFO {
		l.Printf(l.formatter(ctx, log.InfoPre, "", format), args...)
	}
}

func (l *proxyLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.DEBUG {
		l.Printf(l.formatter(ctx, log.DebugPre, "", format), args...)
	}
}

func (l *proxyLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.WARN {
		l.Printf(l.formatter(ctx, log.WarnPre, "", format), args...)
	}
}

func (l *proxyLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.ERROR {
		l.Printf(l.formatter(ctx, log.ErrorPre, defaultErrorCode, format), args...)
	}
}

func (l *proxyLogger) Alertf(ctx context.Context, alert string, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.ERROR {
		l.Printf(l.formatter(ctx, log.ErrorPre, alert, format), args...)
	}
}

func (l *proxyLogger) Fatalf(ctx context.Context, format string, args ...interface{}) {
	if l.Disable() {
		return
	}
	if l.Level >= log.FATAL {
		l.Logger.Fatalf(l.formatter(ctx, log.FatalPre, "", format), args...)
	}
}

func (l *proxyLogger) GetLogLevel() log.Level {
	return l.Level
}

func (l *proxyLogger) SetLogLevel(level log.Level) {
	l.Level = level
}

// traceInfo renders [worker,stream,trace]; missing values print as "-".
func traceInfo(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	wid, sid, tid := "-", "-", "-"

	if v, ok := dpctx.Get(ctx, types.ContextKeyWorkerIndex).(int); ok {
		wid = strconv.Itoa(v)
	}
	if v, ok := dpctx.Get(ctx, types.ContextKeyStreamID).(int64); ok {
		sid = strconv.FormatInt(v, 10)
	}
	if v, ok := dpctx.Get(ctx, types.ContextKeyTraceID).(int64); ok {
		tid = strconv.FormatInt(v, 16)
	}

	return "[" + wid + "," + sid + "," + tid + "]"
}
