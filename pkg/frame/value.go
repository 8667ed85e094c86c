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
	"fmt"

	"github.com/pkg/errors"

	"github.com/aklivity/zilla-sub038/pkg/types"
)

// Frame is a decoded event that can encode itself. Values own their byte
// fields; flyweights are the zero-copy alternative on the receive path.
type Frame interface {
	TypeID() int32
	FrameHeader() *Header
	// Sizeof is the exact encoded length, so a transport claim can be
	// sized before encoding.
	Sizeof() int
	EncodeTo(buffer []byte, offset int, limit int) (int, error)
}

func (h *Header) FrameHeader() *Header { return h }

type Begin struct {
	Header
	OriginID  int64
	RoutedID  int64
	Affinity  int64
	Extension []byte
}

func (f *Begin) TypeID() int32 { return types.BeginTypeID }

func (f *Begin) Sizeof() int { return beginFixedSize + sizeofOctets(f.Extension) }

func (f *Begin) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(&f.Header)
	c.putInt64(f.OriginID)
	c.putInt64(f.RoutedID)
	c.putInt64(f.Affinity)
	c.putOctets(f.Extension)
	return c.finish(offset)
}

type Data struct {
	Header
	Flags     uint8
	Reserved  int32
	Payload   []byte
	Extension []byte
}

func (f *Data) TypeID() int32 { return types.DataTypeID }

func (f *Data) Sizeof() int {
	return dataFixedSize + sizeofOctets(f.Payload) + sizeofOctets(f.Extension)
}

func (f *Data) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(&f.Header)
	c.putInt8(f.Flags)
	c.putInt32(f.Reserved)
	c.putOctets(f.Payload)
	c.putOctets(f.Extension)
	return c.finish(offset)
}

// End, Abort, Reset and Challenge carry the common header and extension only.
type End struct {
	Header
	Extension []byte
}

func (f *End) TypeID() int32 { return types.EndTypeID }
func (f *End) Sizeof() int { return HeaderSize + sizeofOctets(f.Extension) }
func (f *End) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	return encodeHeaderOnly(&f.Header, f.Extension, buffer, offset, limit)
}

type Abort struct {
	Header
	Extension []byte
}

func (f *Abort) TypeID() int32 { return types.AbortTypeID }
func (f *Abort) Sizeof() int { return HeaderSize + sizeofOctets(f.Extension) }
func (f *Abort) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	return encodeHeaderOnly(&f.Header, f.Extension, buffer, offset, limit)
}

type Reset struct {
	Header
	Extension []byte
}

func (f *Reset) TypeID() int32 { return types.ResetTypeID }
func (f *Reset) Sizeof() int { return HeaderSize + sizeofOctets(f.Extension) }
func (f *Reset) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	return encodeHeaderOnly(&f.Header, f.Extension, buffer, offset, limit)
}

type Challenge struct {
	Header
	Extension []byte
}

func (f *Challenge) TypeID() int32 { return types.ChallengeTypeID }
func (f *Challenge) Sizeof() int { return HeaderSize + sizeofOctets(f.Extension) }
func (f *Challenge) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	return encodeHeaderOnly(&f.Header, f.Extension, buffer, offset, limit)
}

type Flush struct {
	Header
	Reserved  int32
	Extension []byte
}

func (f *Flush) TypeID() int32 { return types.FlushTypeID }

func (f *Flush) Sizeof() int { return flushFixedSize + sizeofOctets(f.Extension) }

func (f *Flush) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(&f.Header)
	c.putInt32(f.Reserved)
	c.putOctets(f.Extension)
	return c.finish(offset)
}

type Window struct {
	Header
	Padding      int32
	Minimum      int32
	Capabilities uint8
	Extension    []byte
}

func (f *Window) TypeID() int32 { return types.WindowTypeID }

func (f *Window) Sizeof() int { return windowFixedSize + sizeofOctets(f.Extension) }

func (f *Window) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(&f.Header)
	c.putInt32(f.Padding)
	c.putInt32(f.Minimum)
	c.putInt8(f.Capabilities)
	c.putOctets(f.Extension)
	return c.finish(offset)
}

type Signal struct {
	Header
	CancelID  int64
	SignalID  int32
	ContextID int32
	Payload   []byte
	Extension []byte
}

func (f *Signal) TypeID() int32 { return types.SignalTypeID }

func (f *Signal) Sizeof() int {
	return signalFixedSize + sizeofOctets(f.Payload) + sizeofOctets(f.Extension)
}

func (f *Signal) EncodeTo(buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(&f.Header)
	c.putInt64(f.CancelID)
	c.putInt32(f.SignalID)
	c.putInt32(f.ContextID)
	c.putOctets(f.Payload)
	c.putOctets(f.Extension)
	return c.finish(offset)
}

func encodeHeaderOnly(h *Header, extension []byte, buffer []byte, offset int, limit int) (int, error) {
	c := cursor{buffer: buffer, pos: offset, limit: limit}
	c.putHeader(h)
	c.putOctets(extension)
	return c.finish(offset)
}

// Decode copies the frame of kind typeID at buffer[offset:limit] into a value.
func Decode(typeID int32, buffer []byte, offset int, limit int) (Frame, error) {
	switch typeID {
	case types.BeginTypeID:
		var fw BeginFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Begin{
			Header:    fw.header(),
			OriginID:  fw.OriginID(),
			RoutedID:  fw.RoutedID(),
			Affinity:  fw.Affinity(),
			Extension: fw.Extension().Clone(),
		}, nil
	case types.DataTypeID:
		var fw DataFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Data{
			Header:    fw.header(),
			Flags:     fw.Flags(),
			Reserved:  fw.Reserved(),
			Payload:   fw.Payload().Clone(),
			Extension: fw.Extension().Clone(),
		}, nil
	case types.EndTypeID:
		var fw EndFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &End{Header: fw.header(), Extension: fw.Extension().Clone()}, nil
	case types.AbortTypeID:
		var fw AbortFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Abort{Header: fw.header(), Extension: fw.Extension().Clone()}, nil
	case types.FlushTypeID:
		var fw FlushFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Flush{Header: fw.header(), Reserved: fw.Reserved(), Extension: fw.Extension().Clone()}, nil
	case types.ResetTypeID:
		var fw ResetFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Reset{Header: fw.header(), Extension: fw.Extension().Clone()}, nil
	case types.ChallengeTypeID:
		var fw ChallengeFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Challenge{Header: fw.header(), Extension: fw.Extension().Clone()}, nil
	case types.WindowTypeID:
		var fw WindowFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Window{
			Header:       fw.header(),
			Padding:      fw.Padding(),
			Minimum:      fw.Minimum(),
			Capabilities: fw.Capabilities(),
			Extension:    fw.Extension().Clone(),
		}, nil
	case types.SignalTypeID:
		var fw SignalFW
		if err := fw.Wrap(buffer, offset, limit); err != nil {
			return nil, err
		}
		return &Signal{
			Header:    fw.header(),
			CancelID:  fw.CancelID(),
			SignalID:  fw.SignalID(),
			ContextID: fw.ContextID(),
			Payload:   fw.Payload().Clone(),
			Extension: fw.Extension().Clone(),
		}, nil
	}
	return nil, errors.Wrapf(types.ErrMalformedFrame, "unknown frame type 0x%08x", typeID)
}

// Name returns the frame kind for logs and dumps.
func Name(typeID int32) string {
	switch typeID {
	case types.BeginTypeID:
		return "BEGIN"
	case types.DataTypeID:
		return "DATA"
	case types.EndTypeID:
		return "END"
	case types.AbortTypeID:
		return "ABORT"
	case types.FlushTypeID:
		return "FLUSH"
	case types.ResetTypeID:
		return "RESET"
	case types.WindowTypeID:
		return "WINDOW"
	case types.SignalTypeID:
		return "SIGNAL"
	case types.ChallengeTypeID:
		return "CHALLENGE"
	}
	return fmt.Sprintf("0x%08x", typeID)
}
