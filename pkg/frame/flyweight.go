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

package frame

import (
	"github.com/pkg/errors"
)

// BEGIN layout
const (
	FieldOffsetOriginID = HeaderSize
	FieldOffsetRoutedID = FieldOffsetOriginID + 8
	FieldOffsetAffinity = FieldOffsetRoutedID + 8

	beginFixedSize = FieldOffsetAffinity + 8
)

// DATA layout
const (
	FieldOffsetFlags    = HeaderSize
	FieldOffsetReserved = FieldOffsetFlags + 1
	FieldOffsetPayload  = FieldOffsetReserved + 4

	dataFixedSize = FieldOffsetPayload
)

// FLUSH layout
const (
	FieldOffsetFlushReserved = HeaderSize

	flushFixedSize = FieldOffsetFlushReserved + 4
)

// WINDOW layout
const (
	FieldOffsetPadding      = HeaderSize
	FieldOffsetMinimum      = FieldOffsetPadding + 4
	FieldOffsetCapabilities = FieldOffsetMinimum + 4

	windowFixedSize = FieldOffsetCapabilities + 1
)

// SIGNAL layout
const (
	FieldOffsetCancelID      = HeaderSize
	FieldOffsetSignalID      = FieldOffsetCancelID + 8
	FieldOffsetContextID     = FieldOffsetSignalID + 4
	FieldOffsetSignalPayload = FieldOffsetContextID + 4

	signalFixedSize = FieldOffsetSignalPayload
)

type BeginFW struct {
	FrameFW
}

func (f *BeginFW) Wrap(buffer []byte, offset int, limit int) error {
	if err := f.wrap(buffer, offset, limit, beginFixedSize, "begin"); err != nil {
		return err
	}
	_, err := f.wrapExtension(offset + beginFixedSize)
	return errors.WithMessage(err, "begin")
}

func (f *BeginFW) OriginID() int64 { return f.int64At(FieldOffsetOriginID) }
func (f *BeginFW) RoutedID() int64 { return f.int64At(FieldOffsetRoutedID) }
func (f *BeginFW) Affinity() int64 { return f.int64At(FieldOffsetAffinity) }

type DataFW struct {
	FrameFW
	payload Octets
}

func (f *DataFW) Wrap(buffer []byte, offset int, limit int) error {
	if err := f.wrap(buffer, offset, limit, dataFixedSize, "data"); err != nil {
		return err
	}
	payload, err := wrapOctets(buffer, offset+FieldOffsetPayload, limit)
	if err != nil {
		return errors.WithMessage(err, "data payload")
	}
	f.payload = payload
	_, err = f.wrapExtension(offset + FieldOffsetPayload + payload.Sizeof())
	return errors.WithMessage(err, "data")
}

func (f *DataFW) Flags() uint8 { return f.buffer[f.offset+FieldOffsetFlags] }
func (f *DataFW) Reserved() int32 { return f.int32At(FieldOffsetReserved) }
func (f *DataFW) Payload() Octets { return f.payload }

// Length is the payload length, -1 when the payload is null.
func (f *DataFW) Length() int { return f.payload.length }

type EndFW struct {
	FrameFW
}

func (f *EndFW) Wrap(buffer []byte, offset int, limit int) error {
	return wrapHeaderOnly(&f.FrameFW, buffer, offset, limit, "end")
}

type AbortFW struct {
	FrameFW
}

func (f *AbortFW) Wrap(buffer []byte, offset int, limit int) error {
	return wrapHeaderOnly(&f.FrameFW, buffer, offset, limit, "abort")
}

type FlushFW struct {
	FrameFW
}

func (f *FlushFW) Wrap(buffer []byte, offset int, limit int) error {
	if err := f.wrap(buffer, offset, limit, flushFixedSize, "flush"); err != nil {
		return err
	}
	_, err := f.wrapExtension(offset + flushFixedSize)
	return errors.WithMessage(err, "flush")
}

func (f *FlushFW) Reserved() int32 { return f.int32At(FieldOffsetFlushReserved) }

type ResetFW struct {
	FrameFW
}

func (f *ResetFW) Wrap(buffer []byte, offset int, limit int) error {
	return wrapHeaderOnly(&f.FrameFW, buffer, offset, limit, "reset")
}

type ChallengeFW struct {
	FrameFW
}

func (f *ChallengeFW) Wrap(buffer []byte, offset int, limit int) error {
	return wrapHeaderOnly(&f.FrameFW, buffer, offset, limit, "challenge")
}

type WindowFW struct {
	FrameFW
}

func (f *WindowFW) Wrap(buffer []byte, offset int, limit int) error {
	if err := f.wrap(buffer, offset, limit, windowFixedSize, "window"); err != nil {
		return err
	}
	_, err := f.wrapExtension(offset + windowFixedSize)
	return errors.WithMessage(err, "window")
}

func (f *WindowFW) Padding() int32 { return f.int32At(FieldOffsetPadding) }
func (f *WindowFW) Minimum() int32 { return f.int32At(FieldOffsetMinimum) }
func (f *WindowFW) Capabilities() uint8 { return f.buffer[f.offset+FieldOffsetCapabilities] }

type SignalFW struct {
	FrameFW
	payload Octets
}

func (f *SignalFW) Wrap(buffer []byte, offset int, limit int) error {
	if err := f.wrap(buffer, offset, limit, signalFixedSize, "signal"); err != nil {
		return err
	}
	payload, err := wrapOctets(buffer, offset+FieldOffsetSignalPayload, limit)
	if err != nil {
		return errors.WithMessage(err, "signal payload")
	}
	f.payload = payload
	_, err = f.wrapExtension(offset + FieldOffsetSignalPayload + payload.Sizeof())
	return errors.WithMessage(err, "signal")
}

func (f *SignalFW) CancelID() int64 { return f.int64At(FieldOffsetCancelID) }
func (f *SignalFW) SignalID() int32 { return f.int32At(FieldOffsetSignalID) }
func (f *SignalFW) ContextID() int32 { return f.int32At(FieldOffsetContextID) }
func (f *SignalFW) Payload() Octets { return f.payload }

func wrapHeaderOnly(f *FrameFW, buffer []byte, offset int, limit int, kind string) error {
	if err := f.wrap(buffer, offset, limit, HeaderSize, kind); err != nil {
		return err
	}
	_, err := f.wrapExtension(offset + HeaderSize)
	return errors.WithMessage(err, kind)
}
