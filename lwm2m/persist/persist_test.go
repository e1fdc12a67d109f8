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

package persist

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/observe"
)

var secret = []byte("0123456789abcdef")
var identity = []byte("urn:imei:352656100000001")

func newObjStore() *model.Store {
	st := model.NewStore()
	st.AddObject(model.SecurityDef, nil)
	st.AddObject(model.ServerDef, nil)
	return st
}

func populate(t *testing.T, st *model.Store) {
	acl := model.NewACL(model.BootstrapSSID)
	acl.SetDefault(model.PermRead)
	_, err := st.CreateInstance(model.ObjSecurity, 1, acl)
	require.NoError(t, err)

	for rid, v := range map[uint16]interface{}{
		model.SecServerURI:     "coaps://dm.example.com:5684",
		model.SecBootstrap:     false,
		model.SecMode:          model.SecModePSK,
		model.SecIdentity:      identity,
		model.SecSecretKey:     secret,
		model.SecShortServerID: 101,
		model.SecHoldOffTime:   10,
	} {
		require.NoError(t, st.Set(model.ObjSecurity, 1, rid, v))
	}

	srvACL := model.NewACL(101)
	srvACL.Set(102, model.PermRead|model.PermObserve)
	_, err = st.CreateInstance(model.ObjServer, 1, srvACL)
	require.NoError(t, err)
	for rid, v := range map[uint16]interface{}{
		model.SrvShortServerID: 101,
		model.SrvLifetime:      3600,
		model.SrvDefaultPmin:   10,
		model.SrvDefaultPmax:   60,
		model.SrvBinding:       "U",
	} {
		require.NoError(t, st.Set(model.ObjServer, 1, rid, v))
	}
}

func TestSlotRecordsRoundTrip(t *testing.T) {
	kv := NewMemKV()
	s := New(kv)

	st := newObjStore()
	populate(t, st)

	require.NoError(t, s.SaveSecurity(0, st.Instance(model.ObjSecurity, 1)))
	require.NoError(t, s.SaveServer(0, st.Instance(model.ObjServer, 1),
		RegState{Registered: true, Location: "/rd/5a3f"}))

	// Credentials never reach the KV.
	for _, id := range kv.IDs() {
		raw := kv.Raw(id)
		assert.False(t, bytes.Contains(raw, secret), "record 0x%04x", id)
		assert.False(t, bytes.Contains(raw, identity), "record 0x%04x", id)
	}

	loaded := newObjStore()
	regs, err := s.LoadObjects(loaded)
	require.NoError(t, err)

	sec := model.SecurityFrom(loaded.Instance(model.ObjSecurity, 1))
	assert.Equal(t, "coaps://dm.example.com:5684", sec.URI)
	assert.EqualValues(t, 101, sec.SSID)
	assert.EqualValues(t, 10, sec.HoldOff)
	assert.Empty(t, sec.PSK)
	assert.Empty(t, sec.Identity)
	assert.Equal(t, st.Instance(model.ObjSecurity, 1).ACL,
		loaded.Instance(model.ObjSecurity, 1).ACL)

	srv := model.ServerFrom(loaded.Instance(model.ObjServer, 1))
	assert.EqualValues(t, 3600, srv.Lifetime)
	assert.EqualValues(t, 60, srv.DefaultPmax)
	assert.Equal(t, st.Instance(model.ObjServer, 1).ACL,
		loaded.Instance(model.ObjServer, 1).ACL)

	assert.Equal(t, RegState{Registered: true, Location: "/rd/5a3f"},
		regs[1])
}

func TestCorruptRecordDropped(t *testing.T) {
	kv := NewMemKV()
	s := New(kv)

	st := newObjStore()
	populate(t, st)
	require.NoError(t, s.SaveSecurity(0, st.Instance(model.ObjSecurity, 1)))

	raw := kv.Raw(SecurityBase)
	raw[3] ^= 0xff
	require.NoError(t, kv.Write(SecurityBase, raw))

	loaded := newObjStore()
	_, err := s.LoadObjects(loaded)
	require.NoError(t, err)
	assert.Empty(t, loaded.Instances(model.ObjSecurity))

	_, err = kv.Read(SecurityBase)
	assert.True(t, IsNotFound(err))
}

func TestObserverRecords(t *testing.T) {
	s := New(NewMemKV())

	battery := model.ResourcePath(model.ObjDevice, 0, model.DevBatteryLevel)
	o := &observe.Observer{
		Slot:   2,
		Remote: "[2001:db8::1]:5684",
		Token:  []byte{1, 2, 3, 4},
		Path:   battery,
		Format: 11542,
		SSID:   101,
	}
	require.NoError(t, s.SaveObserver(o))

	m := &observe.Metadata{Slot: 5, Path: battery, SSID: 101}
	m.Attrs.Set(observe.AttrPmin, 10, observe.LevelResource)
	m.Attrs.Set(observe.AttrGt, 50.5, observe.LevelResource)
	require.NoError(t, s.SaveMetadata(m))

	obs, metas, err := s.LoadObservers()
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Len(t, metas, 1)

	assert.Equal(t, o, obs[0])
	assert.Equal(t, m.Attrs, metas[0].Attrs)
	assert.Equal(t, 5, metas[0].Slot)
	assert.Equal(t, battery, metas[0].Path)

	require.NoError(t, s.ClearObservers())
	obs, metas, err = s.LoadObservers()
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Empty(t, metas)
}

func TestMiscRecord(t *testing.T) {
	s := New(NewMemKV())

	m, err := s.LoadMisc()
	require.NoError(t, err)
	assert.Equal(t, Misc{}, m)

	want := Misc{
		Bootstrapped: true,
		Operator:     "311480",
		MSISDN:       "+11234567890",
		FwState:      FwUpdateScheduled,
		FwVersion:    []byte{0xde, 0xad},
	}
	require.NoError(t, s.SaveMisc(want))

	m, err = s.LoadMisc()
	require.NoError(t, err)
	assert.Equal(t, want, m)

	require.NoError(t, s.Wipe())
	m, err = s.LoadMisc()
	require.NoError(t, err)
	assert.False(t, m.Bootstrapped)
}

func TestBoltKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lwm2m.db")

	kv, err := OpenBoltKV(path)
	require.NoError(t, err)

	s := New(kv)
	require.NoError(t, s.SaveMisc(Misc{Bootstrapped: true}))
	require.NoError(t, kv.Close())

	kv, err = OpenBoltKV(path)
	require.NoError(t, err)
	defer kv.Close()

	m, err := New(kv).LoadMisc()
	require.NoError(t, err)
	assert.True(t, m.Bootstrapped)

	require.NoError(t, kv.Delete(MiscID))
	_, err = kv.Read(MiscID)
	assert.True(t, IsNotFound(err))
}
