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
	"path"

	"mosn.io/pkg/log"
)

// errorLogger writes engine events to output. Alerts go to a sibling
// "alert." file as well when output is a file, so operators can watch
// corruption and budget loss apart from routine events.
type errorLogger struct {
	*log.SimpleErrorLog
	alerts   *log.SimpleErrorLog
	separate bool
}

func CreateDefaultErrorLogger(output string, level log.Level) (log.ErrorLogger, error) {
	lg, err := log.GetOrCreateLogger(output, nil)
	if err != nil {
		return nil, err
	}
	l := &errorLogger{
		SimpleErrorLog: &log.SimpleErrorLog{
			Logger:    lg,
			Formatter: log.DefaultFormatter,
			Level:     level,
		},
	}
	alg := lg
	switch output {
	case "", "stdout", "stderr", "/dev/stderr", "/dev/stdout":
	default:
		dir, file := path.Split(output)
		if alg, err = log.GetOrCreateLogger(path.Join(dir, "alert."+file), nil); err != nil {
			return nil, err
		}
		l.separate = true
	}
	l.alerts = &log.SimpleErrorLog{
		Logger:    alg,
		Formatter: log.DefaultFormatter,
		Level:     log.ERROR,
	}
	return l, nil
}

// {time} [{level}] [{error code}] {content}
const defaultErrorCode = "dataplane"

func (l *errorLogger) Errorf(format string, args ...interface{}) {
	if l.Disable() || l.Level < log.ERROR {
		return
	}
	l.Logger.Printf(l.Formatter(log.ErrorPre, defaultErrorCode, format), args...)
}

func (l *errorLogger) Alertf(alert string, format string, args ...interface{}) {
	if !l.alerts.Disable() {
		l.alerts.Alertf(alert, format, args...)
	}
	if l.separate && !l.Disable() && l.Level >= log.ERROR {
		l.Logger.Printf(l.Formatter(log.ErrorPre, alert, format), args...)
	}
}
