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

package types

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error messages
const (
	MalformedFrame     string = "malformed frame"
	ProtocolViolation  string = "protocol violation"
	CapacityExceeded   string = "claim exceeds ring capacity"
	InsufficientSpace  string = "insufficient ring space"
	BudgetExceeded     string = "budget exceeded"
	UnknownStream      string = "unknown stream"
	NoRoute            string = "no route"
	UnknownBudget      string = "unknown budget"
	WorkerNotAvailable string = "worker not available"
)

// Errors
var (
	ErrMalformedFrame     = errors.New(MalformedFrame)
	ErrProtocolViolation  = errors.New(ProtocolViolation)
	ErrCapacityExceeded   = errors.New(CapacityExceeded)
	ErrInsufficientSpace  = errors.New(InsufficientSpace)
	ErrBudgetExceeded     = errors.New(BudgetExceeded)
	ErrUnknownStream      = errors.New(UnknownStream)
	ErrNoRoute            = errors.New(NoRoute)
	ErrUnknownBudget      = errors.New(UnknownBudget)
	ErrWorkerNotAvailable = errors.New(WorkerNotAvailable)
)

// IsRecoverable reports whether err only means "no progress now, try again later".
func IsRecoverable(err error) bool {
	switch pkgerrors.Cause(err) {
	case ErrCapacityExceeded, ErrInsufficientSpace, ErrBudgetExceeded:
		return true
	}
	return false
}

// Is reports whether the root cause of err is target.
func Is(err error, target error) bool {
	return pkgerrors.Cause(err) == target
}

// CorruptionError is the panic value raised when a shared memory region
// holds a state no well-behaved peer could have produced.
type CorruptionError struct {
	Region string
	Offset int
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("shared memory corruption in %s at offset %d: %s", e.Region, e.Offset, e.Reason)
}

// Corrupted panics with a CorruptionError.
func Corrupted(region string, offset int, format string, args ...interface{}) {
	panic(&CorruptionError{
		Region: region,
		Offset: offset,
		Reason: fmt.Sprintf(format, args...),
	})
}
