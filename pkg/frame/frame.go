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

// Package frame encodes and decodes stream events directly over byte
// windows. Decoders are flyweights that validate a window once and then
// read fields at fixed offsets; encoders write every field of a kind in
// declaration order through a single cursor.
//
// Every frame starts with the common header:
//
//	streamId:i64 sequence:i64 acknowledge:i64 maximum:i32 traceId:i64
//	authorization:i64 budgetId:i64
//
// followed by the kind specific fixed fields, the kind specific variable
// fields and finally the extension. All integers are little endian and
// variable length fields are prefixed by a zig-zag varint length where
// -1 marks null.
package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Common header layout
const (
	FieldOffsetStreamID      = 0
	FieldOffsetSequence      = FieldOffsetStreamID + 8
	FieldOffsetAcknowledge   = FieldOffsetSequence + 8
	FieldOffsetMaximum       = FieldOffsetAcknowledge + 8
	FieldOffsetTraceID       = FieldOffsetMaximum + 4
	FieldOffsetAuthorization = FieldOffsetTraceID + 8
	FieldOffsetBudgetID      = FieldOffsetAuthorization + 8

	HeaderSize = FieldOffsetBudgetID + 8
)

var le = binary.LittleEndian

// FrameFW reads the common header of any frame kind.
type FrameFW struct {
	buffer    []byte
	offset    int
	limit     int
	end       int
	extension Octets
}

// wrap checks that [offset, limit) holds fixedSize bytes and leaves the
// flyweight positioned on the frame. The caller wraps the variable fields.
func (f *FrameFW) wrap(buffer []byte, offset int, limit int, fixedSize int, kind string) error {
	if offset < 0 || limit > len(buffer) || offset > limit {
		return errors.Wrapf(types.ErrMalformedFrame, "%s: window [%d,%d) outside buffer of %d", kind, offset, limit, len(buffer))
	}
	if limit-offset < fixedSize {
		return errors.Wrapf(types.ErrMalformedFrame, "%s: %d bytes, need %d", kind, limit-offset, fixedSize)
	}
	f.buffer = buffer
	f.offset = offset
	f.limit = limit
	return nil
}

// wrapExtension reads the trailing extension at offset and returns the frame limit.
func (f *FrameFW) wrapExtension(offset int) (int, error) {
	ext, err := wrapOctets(f.buffer, offset, f.limit)
	if err != nil {
		return 0, errors.Wrap(err, "extension")
	}
	f.extension = ext
	f.end = offset + ext.Sizeof()
	return f.end, nil
}

func (f *FrameFW) int64At(field int) int64 {
	return int64(le.Uint64(f.buffer[f.offset+field:]))
}

func (f *FrameFW) int32At(field int) int32 {
	return int32(le.Uint32(f.buffer[f.offset+field:]))
}

func (f *FrameFW) Buffer() []byte { return f.buffer }
func (f *FrameFW) Offset() int { return f.offset }

// Limit is the end of the frame once a kind specific Wrap succeeded.
func (f *FrameFW) Limit() int { return f.end }
func (f *FrameFW) Sizeof() int { return f.end - f.offset }

func (f *FrameFW) StreamID() int64 { return f.int64At(FieldOffsetStreamID) }
func (f *FrameFW) Sequence() int64 { return f.int64At(FieldOffsetSequence) }
func (f *FrameFW) Acknowledge() int64 { return f.int64At(FieldOffsetAcknowledge) }
func (f *FrameFW) Maximum() int32 { return f.int32At(FieldOffsetMaximum) }
func (f *FrameFW) TraceID() int64 { return f.int64At(FieldOffsetTraceID) }
func (f *FrameFW) Authorization() int64 { return f.int64At(FieldOffsetAuthorization) }
func (f *FrameFW) BudgetID() int64 { return f.int64At(FieldOffsetBudgetID) }
func (f *FrameFW) Extension() Octets { return f.extension }

func (f *FrameFW) header() Header {
	return Header{
		StreamID:      f.StreamID(),
		Sequence:      f.Sequence(),
		Acknowledge:   f.Acknowledge(),
		Maximum:       f.Maximum(),
		TraceID:       f.TraceID(),
		Authorization: f.Authorization(),
		BudgetID:      f.BudgetID(),
	}
}

// Header is the decoded common header.
type Header struct {
	StreamID      int64
	Sequence      int64
	Acknowledge   int64
	Maximum       int32
	TraceID       int64
	Authorization int64
	BudgetID      int64
}

// Wrap validates only the common header, for callers that route on
// stream id before choosing a kind specific flyweight.
func (f *FrameFW) Wrap(buffer []byte, offset int, limit int) error {
	f.extension = Octets{}
	if err := f.wrap(buffer, offset, limit, HeaderSize, "frame"); err != nil {
		return err
	}
	f.end = limit
	return nil
}
