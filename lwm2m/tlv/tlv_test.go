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

package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Device object fragment from the LwM2M TLV examples.
var deviceTlv = []byte{
	0xc8, 0x00, 0x14, 'O', 'p', 'e', 'n', ' ', 'M', 'o', 'b', 'i', 'l', 'e',
	' ', 'A', 'l', 'l', 'i', 'a', 'n', 'c', 'e',
	0x86, 0x06,
	0x41, 0x00, 0x01,
	0x41, 0x01, 0x05,
}

func TestDecodeDevice(t *testing.T) {
	entries, err := Decode(deviceTlv)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	mfr := Find(entries, TypeResourceValue, 0)
	require.NotNil(t, mfr)
	assert.Equal(t, "Open Mobile Alliance", mfr.Text())

	src := Find(entries, TypeMultipleResource, 6)
	require.NotNil(t, src)
	require.Len(t, src.Children, 2)

	v, err := src.Children[1].Int()
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
	assert.Equal(t, TypeResourceInstance, src.Children[1].Type)
}

func TestEncodeMatchesReference(t *testing.T) {
	b := Encode([]Entry{
		StringResource(0, "Open Mobile Alliance"),
		MultipleResource(6, IntInstance(0, 1), IntInstance(1, 5)),
	})
	assert.Equal(t, deviceTlv, b)
}

func TestWideIdentifierAndLength(t *testing.T) {
	payload := make([]byte, 300)
	b := Encode([]Entry{OpaqueResource(0x1234, payload)})

	// 16-bit identifier, 16-bit length.
	assert.Equal(t, byte(0xc0|0x20|0x10), b[0])
	assert.Equal(t, []byte{0x12, 0x34, 0x01, 0x2c}, b[1:5])

	entries, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 0x1234, entries[0].ID)
	assert.Len(t, entries[0].Value, 300)
}

func TestIntegerWidths(t *testing.T) {
	cases := map[int64]int{
		-1:      1,
		127:     1,
		128:     2,
		-32769:  4,
		86400:   4,
		1 << 40: 8,
	}

	for v, width := range cases {
		e := IntResource(1, v)
		assert.Len(t, e.Value, width, "value %d", v)

		got, err := e.Int()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0xc8, 0x00, 0x14, 'O'})
	assert.Error(t, err)

	_, err = Decode([]byte{0xe8})
	assert.Error(t, err)
}

func TestObjectInstanceNesting(t *testing.T) {
	b := Encode([]Entry{
		ObjectInstance(1,
			IntResource(0, 102),
			IntResource(1, 86400),
			StringResource(7, "U")),
	})

	entries, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	inst := entries[0]
	assert.Equal(t, TypeObjectInstance, inst.Type)
	assert.EqualValues(t, 1, inst.ID)

	lt := Find(inst.Children, TypeResourceValue, 1)
	require.NotNil(t, lt)
	v, err := lt.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 86400, v)
}
