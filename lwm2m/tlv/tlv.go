/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package tlv implements the OMA LwM2M TLV content format (11542).
//
// Every entry starts with a type byte:
//     bits 7-6: entry type
//     bit  5:   identifier width (0: 8 bits, 1: 16 bits)
//     bits 4-3: length width (0: length in bits 2-0, 1/2/3: 8/16/24 bits)
//     bits 2-0: length, when the length width is 0
// followed by the identifier, the optional length field and the value.
package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

const MediaType = 11542

type Type byte

const (
	TypeObjectInstance   Type = 0
	TypeResourceInstance Type = 1
	TypeMultipleResource Type = 2
	TypeResourceValue    Type = 3
)

var typeNameMap = map[Type]string{
	TypeObjectInstance:   "object_instance",
	TypeResourceInstance: "resource_instance",
	TypeMultipleResource: "multiple_resource",
	TypeResourceValue:    "resource_value",
}

func (t Type) String() string {
	return typeNameMap[t]
}

// Entry is one decoded TLV.  Object instances and multiple resources carry
// their children; the other types carry a raw value.
type Entry struct {
	Type     Type
	ID       uint16
	Value    []byte
	Children []Entry
}

func (e *Entry) hasChildren() bool {
	return e.Type == TypeObjectInstance || e.Type == TypeMultipleResource
}

// Decode parses a TLV buffer into a list of entries.
func Decode(b []byte) ([]Entry, error) {
	var entries []Entry

	off := 0
	for off < len(b) {
		e, n, err := decodeOne(b[off:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		off += n
	}

	return entries, nil
}

func decodeOne(b []byte) (Entry, int, error) {
	e := Entry{}

	if len(b) < 2 {
		return e, 0, fmt.Errorf("TLV header truncated; len=%d", len(b))
	}

	hdr := b[0]
	e.Type = Type(hdr >> 6)
	idWide := hdr&0x20 != 0
	lenWidth := int((hdr >> 3) & 0x03)

	off := 1
	if idWide {
		if len(b) < off+2 {
			return e, 0, fmt.Errorf("TLV identifier truncated")
		}
		e.ID = binary.BigEndian.Uint16(b[off:])
		off += 2
	} else {
		e.ID = uint16(b[off])
		off++
	}

	length := int(hdr & 0x07)
	if lenWidth > 0 {
		if len(b) < off+lenWidth {
			return e, 0, fmt.Errorf("TLV length truncated")
		}
		length = 0
		for i := 0; i < lenWidth; i++ {
			length = length<<8 | int(b[off+i])
		}
		off += lenWidth
	}

	if len(b) < off+length {
		return e, 0, fmt.Errorf(
			"TLV value truncated; id=%d want=%d have=%d",
			e.ID, length, len(b)-off)
	}

	val := b[off : off+length]
	if e.hasChildren() {
		children, err := Decode(val)
		if err != nil {
			return e, 0, err
		}
		e.Children = children
	} else {
		e.Value = val
	}

	return e, off + length, nil
}

func encodeHeader(t Type, id uint16, length int) []byte {
	hdr := byte(t) << 6
	buf := []byte{0}

	if id > 0xff {
		hdr |= 0x20
		buf = append(buf, byte(id>>8), byte(id))
	} else {
		buf = append(buf, byte(id))
	}

	switch {
	case length <= 7:
		hdr |= byte(length)
	case length <= 0xff:
		hdr |= 1 << 3
		buf = append(buf, byte(length))
	case length <= 0xffff:
		hdr |= 2 << 3
		buf = append(buf, byte(length>>8), byte(length))
	default:
		hdr |= 3 << 3
		buf = append(buf, byte(length>>16), byte(length>>8), byte(length))
	}

	buf[0] = hdr
	return buf
}

// Encode serializes the entries in order.
func Encode(entries []Entry) []byte {
	var b []byte
	for i := range entries {
		b = append(b, encodeOne(&entries[i])...)
	}
	return b
}

func encodeOne(e *Entry) []byte {
	val := e.Value
	if e.hasChildren() {
		val = Encode(e.Children)
	}

	return append(encodeHeader(e.Type, e.ID, len(val)), val...)
}

// Find returns the first entry with the specified type and identifier.
func Find(entries []Entry, t Type, id uint16) *Entry {
	for i := range entries {
		if entries[i].Type == t && entries[i].ID == id {
			return &entries[i]
		}
	}
	return nil
}

/* Value encoders. */

func encodeInt(v int64) []byte {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return []byte{byte(v)}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		return b
	case v >= math.MinInt32 && v <= math.MaxInt32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		return b
	}
}

func boolBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func IntResource(id uint16, v int64) Entry {
	return Entry{Type: TypeResourceValue, ID: id, Value: encodeInt(v)}
}

func StringResource(id uint16, v string) Entry {
	return Entry{Type: TypeResourceValue, ID: id, Value: []byte(v)}
}

func OpaqueResource(id uint16, v []byte) Entry {
	return Entry{Type: TypeResourceValue, ID: id, Value: v}
}

func BoolResource(id uint16, v bool) Entry {
	return Entry{Type: TypeResourceValue, ID: id, Value: boolBytes(v)}
}

func FloatResource(id uint16, v float64) Entry {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return Entry{Type: TypeResourceValue, ID: id, Value: b}
}

func IntInstance(id uint16, v int64) Entry {
	return Entry{Type: TypeResourceInstance, ID: id, Value: encodeInt(v)}
}

func StringInstance(id uint16, v string) Entry {
	return Entry{Type: TypeResourceInstance, ID: id, Value: []byte(v)}
}

func OpaqueInstance(id uint16, v []byte) Entry {
	return Entry{Type: TypeResourceInstance, ID: id, Value: v}
}

func MultipleResource(id uint16, children ...Entry) Entry {
	return Entry{Type: TypeMultipleResource, ID: id, Children: children}
}

func ObjectInstance(id uint16, children ...Entry) Entry {
	return Entry{Type: TypeObjectInstance, ID: id, Children: children}
}

/* Value decoders. */

func (e *Entry) Int() (int64, error) {
	b := e.Value
	switch len(b) {
	case 1:
		return int64(int8(b[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("invalid TLV integer length: %d", len(b))
	}
}

func (e *Entry) Bool() (bool, error) {
	if len(e.Value) != 1 || e.Value[0] > 1 {
		return false, fmt.Errorf("invalid TLV boolean: %x", e.Value)
	}
	return e.Value[0] == 1, nil
}

func (e *Entry) Float() (float64, error) {
	switch len(e.Value) {
	case 4:
		bits := binary.BigEndian.Uint32(e.Value)
		return float64(math.Float32frombits(bits)), nil
	case 8:
		bits := binary.BigEndian.Uint64(e.Value)
		return math.Float64frombits(bits), nil
	default:
		return 0, fmt.Errorf("invalid TLV float length: %d", len(e.Value))
	}
}

func (e *Entry) Text() string {
	return string(e.Value)
}
