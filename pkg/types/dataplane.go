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

// Log alert codes
const (
	ErrorKeyProtocol   = "dataplane.protocol"
	ErrorKeyCorruption = "dataplane.corruption"
	ErrorKeyBudget     = "dataplane.budget"
	ErrorKeyConfig     = "dataplane.config"
	ErrorKeyAdmin      = "dataplane.admin"
)

// Frame type ids. Throttle frames travel against the data direction and
// carry ThrottleMask.
const (
	BeginTypeID     int32 = 0x00000001
	DataTypeID      int32 = 0x00000002
	EndTypeID       int32 = 0x00000003
	AbortTypeID     int32 = 0x00000004
	FlushTypeID     int32 = 0x00000005
	ResetTypeID     int32 = 0x40000001
	WindowTypeID    int32 = 0x40000002
	SignalTypeID    int32 = 0x40000003
	ChallengeTypeID int32 = 0x40000004

	ThrottleMask int32 = 0x40000000
)

// DATA frame flags
const (
	FlagFin        uint8 = 0x01
	FlagInit       uint8 = 0x02
	FlagIncomplete uint8 = 0x04
	FlagSkip       uint8 = 0x08
)

// NoBudgetID marks a flow that is not gated by a budget.
const NoBudgetID int64 = 0

// IsThrottle reports whether typeID is a WINDOW, RESET, SIGNAL or CHALLENGE frame.
func IsThrottle(typeID int32) bool {
	return typeID&ThrottleMask != 0
}
