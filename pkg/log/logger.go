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
	"sync"

	"mosn.io/pkg/log"
)

var (
	// DefaultLogger records engine and worker events.
	DefaultLogger log.ErrorLogger
	// Proxy records frame level events, prefixed with [worker,stream,trace].
	Proxy log.ContextLogger

	errorLoggerManagerInstance = &errorLoggerManager{
		managers: make(map[string]log.ErrorLogger),
	}
)

func init() {
	if err := InitDefaultLogger("", log.INFO); err != nil {
		panic("init default logger error: " + err.Error())
	}
}

// InitDefaultLogger points DefaultLogger and Proxy at output.
func InitDefaultLogger(output string, level log.Level) (err error) {
	DefaultLogger, err = GetOrCreateDefaultErrorLogger(output, level)
	if err != nil {
		return err
	}
	Proxy, err = CreateDefaultContextLogger(output, level)
	return err
}

type errorLoggerManager struct {
	mutex    sync.Mutex
	managers map[string]log.ErrorLogger
}

// GetOrCreateDefaultErrorLogger returns the error logger bound to output,
// creating it on first use. The level of an existing logger is updated.
func GetOrCreateDefaultErrorLogger(output string, level log.Level) (log.ErrorLogger, error) {
	errorLoggerManagerInstance.mutex.Lock()
	defer errorLoggerManagerInstance.mutex.Unlock()

	if lg, ok := errorLoggerManagerInstance.managers[output]; ok {
		lg.SetLogLevel(level)
		return lg, nil
	}
	lg, err := CreateDefaultErrorLogger(output, level)
	if err != nil {
		return nil, err
	}
	errorLoggerManagerInstance.managers[output] = lg
	return lg, nil
}

// ParseLevel maps a configured level name to a log.Level, defaulting to INFO.
func ParseLevel(level string) log.Level {
	switch level {
	case "FATAL", "fatal":
		return log.FATAL
	case "ERROR", "error":
		return log.ERROR
	case "WARN", "warn":
		return log.WARN
	case "DEBUG", "debug":
		return log.DEBUG
	case "TRACE", "trace":
		return log.TRACE
	}
	return log.INFO
}
