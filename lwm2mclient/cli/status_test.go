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

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/client"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
)

func TestFieldString(t *testing.T) {
	s := client.SlotStatus{
		Index:      1,
		SSID:       102,
		URI:        "coap://dm.example.com:5683",
		Registered: true,
	}

	str := fieldString(s)
	assert.Contains(t, str, "index=1 bootstrap=false ssid=102 ")
	assert.Contains(t, str, "uri=coap://dm.example.com:5683")
	assert.Contains(t, str, "registered=true")
}

func TestStoredSlots(t *testing.T) {
	st := model.NewStore()
	st.AddObject(model.SecurityDef, nil)
	st.AddObject(model.ServerDef, nil)

	acl := model.NewACL(model.BootstrapSSID)
	_, err := st.CreateInstance(model.ObjSecurity, 0, acl)
	require.NoError(t, err)
	require.NoError(t, st.Set(model.ObjSecurity, 0, model.SecServerURI,
		"coaps://bs.example.com:5684"))
	require.NoError(t, st.Set(model.ObjSecurity, 0, model.SecBootstrap,
		true))

	_, err = st.CreateInstance(model.ObjSecurity, 1, acl)
	require.NoError(t, err)
	require.NoError(t, st.Set(model.ObjSecurity, 1, model.SecServerURI,
		"coap://dm.example.com:5683"))
	require.NoError(t, st.Set(model.ObjSecurity, 1, model.SecShortServerID,
		102))

	_, err = st.CreateInstance(model.ObjServer, 0, model.NewACL(102))
	require.NoError(t, err)
	require.NoError(t, st.Set(model.ObjServer, 0, model.SrvShortServerID,
		102))
	require.NoError(t, st.Set(model.ObjServer, 0, model.SrvLifetime, 60))

	ps := persist.New(persist.NewMemKV())
	require.NoError(t, ps.SaveSecurity(0,
		st.Instance(model.ObjSecurity, 0)))
	require.NoError(t, ps.SaveSecurity(1,
		st.Instance(model.ObjSecurity, 1)))
	require.NoError(t, ps.SaveServer(1, st.Instance(model.ObjServer, 0),
		persist.RegState{Registered: true, Location: "/rd/5a3f"}))

	slots, err := storedSlots(ps)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.True(t, slots[0].Bootstrap)
	assert.Equal(t, "coaps://bs.example.com:5684", slots[0].URI)
	assert.False(t, slots[0].Registered)

	assert.Equal(t, 1, slots[1].Index)
	assert.Equal(t, uint16(102), slots[1].SSID)
	assert.Equal(t, int64(60), slots[1].Lifetime)
	assert.Equal(t, "U", slots[1].Binding)
	assert.True(t, slots[1].Registered)
	assert.Equal(t, "/rd/5a3f", slots[1].Location)
}
