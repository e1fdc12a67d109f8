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

package model

import (
	"testing"

	"github.com/runtimeco/go-coap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
)

func newTestStore(t *testing.T) *Store {
	s := NewStore()
	s.AddObject(SecurityDef, nil)
	s.AddObject(ServerDef, nil)
	s.AddObject(DeviceDef, nil)
	s.AddObject(ConnMonDef, nil)

	dev, err := s.CreateInstance(ObjDevice, 0, NewACL(BootstrapSSID))
	require.NoError(t, err)
	dev.ACL.SetDefault(PermRead | PermObserve)
	require.NoError(t, s.Set(ObjDevice, 0, DevManufacturer,
		"Open Mobile Alliance"))
	require.NoError(t, s.Set(ObjDevice, 0, DevBatteryLevel, 20))
	require.NoError(t, s.Set(ObjDevice, 0, DevPowerSources, []int64{1, 5}))

	return s
}

func coapCode(err error) coap.COAPCode {
	return lwutil.CoapCodeFor(err)
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath([]string{"3", "0", "9"})
	require.NoError(t, err)
	assert.Equal(t, ResourcePath(3, 0, 9), p)
	assert.Equal(t, "/3/0/9", p.String())
	assert.Equal(t, "/3/0", p.Parent().String())
	assert.Equal(t, "/", Path{}.String())

	assert.True(t, ObjectPath(3).Contains(p))
	assert.True(t, p.Contains(p))
	assert.False(t, p.Contains(InstancePath(3, 0)))
	assert.False(t, InstancePath(3, 1).Contains(p))

	_, err = ParsePath([]string{"3", "65535"})
	assert.Error(t, err)
	_, err = ParsePath([]string{"x"})
	assert.Error(t, err)
	_, err = ParsePath([]string{"1", "2", "3", "4", "5"})
	assert.Error(t, err)
}

func TestACLPerms(t *testing.T) {
	a := NewACL(101)
	a.SetDefault(PermRead)
	a.Set(102, PermRead|PermWrite)

	assert.Equal(t, PermFull, a.Perms(101))
	assert.Equal(t, PermRead|PermWrite, a.Perms(102))
	assert.Equal(t, PermRead, a.Perms(103))
	assert.False(t, a.Allowed(103, PermWrite))

	// An entry for the owner does not narrow its rights.
	a.Set(101, PermRead)
	assert.Equal(t, PermFull, a.Perms(101))
	assert.True(t, a.Allowed(101, PermWrite))
	assert.True(t, a.Allowed(101, PermDelete))

	b := NewACL(BootstrapSSID)
	assert.Equal(t, PermNone, b.Perms(101))
	assert.Equal(t, PermFull, b.Perms(BootstrapSSID))
	assert.Equal(t, "rwxdco", PermFull.String())
}

func TestACLSerialization(t *testing.T) {
	a := NewACL(101)
	a.SetDefault(PermRead)
	a.Set(102, PermRead|PermObserve)
	a.Set(103, PermExecute|PermDelete|PermCreate)

	entries, err := tlv.Decode(tlv.Encode(a.TLV(65010, 65011)))
	require.NoError(t, err)

	b, err := ParseACL(entries, 65010, 65011)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSetFiresChange(t *testing.T) {
	s := newTestStore(t)

	var changed []string
	s.SetChangeCb(func(p Path) { changed = append(changed, p.String()) })

	require.NoError(t, s.Set(ObjDevice, 0, DevBatteryLevel, 20))
	assert.Empty(t, changed)

	require.NoError(t, s.Set(ObjDevice, 0, DevBatteryLevel, "60"))
	assert.Equal(t, []string{"/3/0/9"}, changed)

	v, ok := s.Numeric(ResourcePath(ObjDevice, 0, DevBatteryLevel))
	require.True(t, ok)
	assert.Equal(t, 60.0, v)

	_, ok = s.Numeric(ResourcePath(ObjDevice, 0, DevManufacturer))
	assert.False(t, ok)

	err := s.Set(ObjDevice, 0, DevBatteryLevel, "sixty")
	assert.Equal(t, coap.BadRequest, coapCode(err))
	err = s.Set(ObjDevice, 1, DevBatteryLevel, 1)
	assert.Equal(t, coap.NotFound, coapCode(err))
}

func TestSingleInstanceObject(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateInstance(ObjDevice, 1, NewACL(BootstrapSSID))
	assert.Equal(t, coap.BadRequest, coapCode(err))
}

func TestReadDevice(t *testing.T) {
	s := newTestStore(t)

	b, err := s.ReadTLV(ResourcePath(ObjDevice, 0, DevManufacturer), nil)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0xc8, 0x00, 0x14},
		"Open Mobile Alliance"...), b)

	b, err = s.ReadTLV(ResourcePath(ObjDevice, 0, DevPowerSources), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x86, 0x06, 0x41, 0x00, 0x01, 0x41, 0x01, 0x05}, b)

	b, err = s.ReadText(ResourcePath(ObjDevice, 0, DevBatteryLevel))
	require.NoError(t, err)
	assert.Equal(t, "20", string(b))

	_, err = s.ReadTLV(ResourcePath(ObjDevice, 0, DevReboot), nil)
	assert.Equal(t, coap.MethodNotAllowed, coapCode(err))

	_, err = s.ReadTLV(ResourcePath(ObjDevice, 0, DevMemoryFree), nil)
	assert.Equal(t, coap.NotFound, coapCode(err))
}

func TestServerWriteRules(t *testing.T) {
	s := newTestStore(t)

	srv, err := s.CreateInstance(ObjServer, 0, NewACL(101))
	require.NoError(t, err)
	require.NoError(t, s.Set(ObjServer, 0, SrvShortServerID, 101))

	// Writable.
	payload := tlv.Encode([]tlv.Entry{tlv.IntResource(SrvLifetime, 3600)})
	require.NoError(t, s.WriteTLV(ResourcePath(ObjServer, 0, SrvLifetime),
		payload, false))
	assert.EqualValues(t, 3600, srv.Int(SrvLifetime))

	// Read-only from a server, allowed for the bootstrap server.
	payload = tlv.Encode([]tlv.Entry{tlv.IntResource(SrvShortServerID, 7)})
	err = s.WriteTLV(ResourcePath(ObjServer, 0, SrvShortServerID), payload,
		false)
	assert.Equal(t, coap.MethodNotAllowed, coapCode(err))
	require.NoError(t, s.WriteTLV(ResourcePath(ObjServer, 0,
		SrvShortServerID), payload, true))
	assert.EqualValues(t, 7, srv.Int(SrvShortServerID))

	// Text format.
	require.NoError(t, s.WriteText(ResourcePath(ObjServer, 0, SrvBinding),
		[]byte("UQ"), false))
	assert.Equal(t, "UQ", srv.String(SrvBinding))

	// Missing instance.
	err = s.WriteTLV(InstancePath(ObjServer, 5), payload, false)
	assert.Equal(t, coap.NotFound, coapCode(err))

	// Garbage.
	err = s.WriteTLV(InstancePath(ObjServer, 0), []byte{0xc8}, false)
	assert.Equal(t, coap.BadRequest, coapCode(err))
}

func TestBootstrapWriteCreatesInstances(t *testing.T) {
	s := newTestStore(t)

	payload := tlv.Encode([]tlv.Entry{
		tlv.ObjectInstance(1,
			tlv.StringResource(SecServerURI, "coaps://dm.example.com"),
			tlv.BoolResource(SecBootstrap, false),
			tlv.IntResource(SecMode, SecModePSK),
			tlv.OpaqueResource(SecIdentity, []byte("id1")),
			tlv.OpaqueResource(SecSecretKey, []byte{1, 2, 3}),
			tlv.IntResource(SecShortServerID, 101),
			tlv.IntResource(SecHoldOffTime, 10),
			tlv.IntResource(99, 1)),
		tlv.ObjectInstance(2,
			tlv.StringResource(SecServerURI, "coap://diag.example.com"),
			tlv.IntResource(SecMode, SecModeNoSec),
			tlv.IntResource(SecShortServerID, 102)),
	})
	require.NoError(t, s.WriteTLV(ObjectPath(ObjSecurity), payload, true))

	insts := s.Instances(ObjSecurity)
	require.Len(t, insts, 2)

	sec := SecurityFrom(insts[0])
	assert.Equal(t, uint16(1), sec.Slot)
	assert.Equal(t, "coaps://dm.example.com", sec.URI)
	assert.EqualValues(t, 101, sec.SSID)
	assert.True(t, sec.HasCredentials())
	assert.Equal(t, BootstrapSSID, insts[0].ACL.Owner)

	assert.False(t, SecurityFrom(insts[1]).HasCredentials())

	err := s.WriteTLV(ObjectPath(ObjSecurity), payload, false)
	assert.Equal(t, coap.MethodNotAllowed, coapCode(err))
}

type recHandler struct {
	DefaultHandler
	executed []uint16
	reject   bool
}

func (h *recHandler) OnWrite(inst *Instance, rid uint16,
	val interface{}) error {

	if h.reject {
		return lwutil.NewCoapError(coap.BadRequest, "rejected")
	}
	return nil
}

func (h *recHandler) OnExecute(inst *Instance, rid uint16,
	args []byte) error {

	h.executed = append(h.executed, rid)
	return nil
}

func TestHandlerDispatch(t *testing.T) {
	s := newTestStore(t)
	h := &recHandler{}
	s.SetHandler(ObjDevice, h)

	require.NoError(t, s.Execute(ResourcePath(ObjDevice, 0, DevReboot), nil))
	assert.Equal(t, []uint16{DevReboot}, h.executed)

	err := s.Execute(ResourcePath(ObjDevice, 0, DevBatteryLevel), nil)
	assert.Equal(t, coap.MethodNotAllowed, coapCode(err))

	h.reject = true
	err = s.WriteText(ResourcePath(ObjDevice, 0, DevTimezone),
		[]byte("UTC"), false)
	assert.Equal(t, coap.BadRequest, coapCode(err))
	assert.False(t, s.Instance(ObjDevice, 0).Has(DevTimezone))
}

func TestLinkFormat(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateInstance(ObjSecurity, 0, NewACL(BootstrapSSID))
	require.NoError(t, err)

	a1 := NewACL(101)
	_, err = s.CreateInstance(ObjServer, 1, a1)
	require.NoError(t, err)
	a2 := NewACL(102)
	_, err = s.CreateInstance(ObjServer, 2, a2)
	require.NoError(t, err)

	n, err := s.LinkFormat(nil, 101)
	require.NoError(t, err)

	buf := make([]byte, n)
	m, err := s.LinkFormat(buf, 101)
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, `</>;rt="oma.lwm2m",</1/1>,</3/0>,</4>`, string(buf))

	_, err = s.LinkFormat(make([]byte, n-1), 101)
	assert.Error(t, err)

	b, err := s.LinkFormatBytes(BootstrapSSID)
	require.NoError(t, err)
	assert.Equal(t, `</>;rt="oma.lwm2m",</1/1>,</1/2>,</3/0>,</4>`,
		string(b))
}

func TestDiscover(t *testing.T) {
	s := newTestStore(t)

	b, err := s.Discover(ResourcePath(ObjDevice, 0, DevBatteryLevel),
		func(p Path) string {
			if p.Len == 3 {
				return ";pmin=10"
			}
			return ""
		})
	require.NoError(t, err)
	assert.Equal(t, "</3/0/9>;pmin=10", string(b))

	b, err = s.Discover(InstancePath(ObjDevice, 0), nil)
	require.NoError(t, err)
	assert.Equal(t,
		"</3/0>,</3/0/0>,</3/0/4>,</3/0/5>,</3/0/6>,</3/0/9>", string(b))

	_, err = s.Discover(InstancePath(ObjDevice, 3), nil)
	assert.Equal(t, coap.NotFound, coapCode(err))
}
