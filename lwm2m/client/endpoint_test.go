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

package client

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
)

func TestClientID(t *testing.T) {
	assert.Equal(t, "urn:imei-msisdn:123456789012345-5551234567",
		ClientID(retry.CarrierVZW, "123456789012345", "+1 (555) 123-4567"))
	assert.Equal(t, "urn:imei-msisdn:123456789012345-5551234",
		ClientID(retry.CarrierVZW, "123456789012345", "5551234"))
	assert.Equal(t, "urn:imei:123456789012345",
		ClientID(retry.CarrierATT, "123456789012345", "15551234567"))
	assert.Equal(t, "urn:imei:123456789012345",
		ClientID(retry.CarrierGeneric, "123456789012345", ""))
}

func TestParseServerURI(t *testing.T) {
	tests := []struct {
		in     string
		host   string
		port   int
		secure bool
	}{
		{"coap://dm.example.com", "dm.example.com", 5683, false},
		{"coaps://dm.example.com", "dm.example.com", 5684, true},
		{"coap://dm.example.com:6000", "dm.example.com", 6000, false},
		{"coaps://[2001:db8::1]:5690", "2001:db8::1", 5690, true},
	}

	for _, tc := range tests {
		su, err := ParseServerURI(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.host, su.Host, tc.in)
		assert.Equal(t, tc.port, su.Port, tc.in)
		assert.Equal(t, tc.secure, su.Secure, tc.in)
	}

	su, err := ParseServerURI("coaps://[2001:db8::1]:5690")
	require.NoError(t, err)
	assert.Equal(t, "coaps://[2001:db8::1]:5690", su.String())
}

func TestParseServerURIErrors(t *testing.T) {
	_, err := ParseServerURI("http://dm.example.com")
	require.Error(t, err)
	upe, ok := errors.Cause(err).(*UnsupportedProtocolError)
	require.True(t, ok)
	assert.Equal(t, "http", upe.Scheme)

	for _, s := range []string{
		"coap://",
		"coap://dm.example.com:0",
		"coap://dm.example.com:70000",
	} {
		_, err := ParseServerURI(s)
		assert.Equal(t, lwutil.KindBadRequest, lwutil.KindOf(err), s)
	}
}
