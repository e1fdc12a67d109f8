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

package observe

import (
	"testing"
	"time"

	"github.com/runtimeco/go-coap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
)

var battery = model.ResourcePath(model.ObjDevice, 0, model.DevBatteryLevel)

type nullConn struct{}

func (nullConn) Write(b []byte) error { return nil }

type memPersister struct {
	obs   map[int]Observer
	metas map[int]Metadata
}

func newMemPersister() *memPersister {
	return &memPersister{
		obs:   map[int]Observer{},
		metas: map[int]Metadata{},
	}
}

func (p *memPersister) SaveObserver(o *Observer) error {
	p.obs[o.Slot] = *o
	return nil
}

func (p *memPersister) DeleteObserver(slot int) error {
	delete(p.obs, slot)
	return nil
}

func (p *memPersister) SaveMetadata(m *Metadata) error {
	p.metas[m.Slot] = *m
	return nil
}

func (p *memPersister) DeleteMetadata(slot int) error {
	delete(p.metas, slot)
	return nil
}

type fixture struct {
	clk   *lwutil.ManualClock
	store *model.Store
	reg   *Registry
	pers  *memPersister
	sent  []bool
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		clk:   lwutil.NewManualClock(time.Unix(0, 0)),
		store: model.NewStore(),
		pers:  newMemPersister(),
	}

	f.store.AddObject(model.DeviceDef, nil)
	_, err := f.store.CreateInstance(model.ObjDevice, 0,
		model.NewACL(model.BootstrapSSID))
	require.NoError(t, err)
	require.NoError(t, f.store.Set(model.ObjDevice, 0,
		model.DevBatteryLevel, 20))
	require.NoError(t, f.store.Set(model.ObjDevice, 0,
		model.DevManufacturer, "acme"))

	f.reg = NewRegistry(f.clk, f.store, func(ssid uint16) (int64, int64) {
		return 0, 0
	}, f.pers)
	f.store.SetChangeCb(f.reg.ValueChanged)

	return f
}

func (f *fixture) at(t *testing.T, secs int) {
	f.clk.Set(time.Duration(secs) * time.Second)
}

func (f *fixture) tick() int {
	n := len(f.sent)
	f.reg.Tick(nil, func(o *Observer, con bool) error {
		f.sent = append(f.sent, con)
		return nil
	})
	return len(f.sent) - n
}

func (f *fixture) setBattery(t *testing.T, v int) {
	require.NoError(t, f.store.Set(model.ObjDevice, 0,
		model.DevBatteryLevel, v))
}

func TestParseAttrQueries(t *testing.T) {
	ups, err := ParseAttrQueries([]string{"pmin=10", "gt=50.5", "st"})
	require.NoError(t, err)
	assert.Equal(t, []AttrUpdate{
		{Attr: AttrPmin, Value: 10},
		{Attr: AttrGt, Value: 50.5},
		{Attr: AttrSt, Clear: true},
	}, ups)

	_, err = ParseAttrQueries([]string{"foo=1"})
	assert.Error(t, err)
	_, err = ParseAttrQueries([]string{"pmin=-1"})
	assert.Error(t, err)
	_, err = ParseAttrQueries([]string{"st=-2"})
	assert.Error(t, err)
}

func TestThresholdGating(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("10.0.0.1:5684", nullConn{}, []byte{1}, battery,
		int(model.TypeInt), 101)
	require.NoError(t, err)
	require.NoError(t, f.reg.WriteAttributes(battery, 101, []string{
		"pmin=10", "pmax=60", "gt=50", "lt=10", "st=5",
	}))

	// pmin not elapsed.
	f.at(t, 5)
	f.setBattery(t, 60)
	assert.Equal(t, 0, f.tick())

	// gt crossed 20 -> 60.
	f.at(t, 10)
	assert.Equal(t, 1, f.tick())
	assert.False(t, f.sent[0])

	// 58 is within st of 60 and crosses nothing.
	f.at(t, 15)
	f.setBattery(t, 58)
	for s := 15; s < 65; s++ {
		f.at(t, s)
		assert.Equal(t, 0, f.tick(), "t=%d", s)
	}

	f.at(t, 65)
	f.setBattery(t, 40)
	assert.Equal(t, 1, f.tick())
}

func TestPmaxForcesNotification(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("r", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)
	require.NoError(t, f.reg.WriteAttributes(battery, 101,
		[]string{"pmax=30", "gt=90"}))

	f.at(t, 29)
	assert.Equal(t, 0, f.tick())
	f.at(t, 30)
	assert.Equal(t, 1, f.tick())
	f.at(t, 31)
	assert.Equal(t, 0, f.tick())
}

func TestZeroPeriodsNotifyOnChange(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("r", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)

	f.at(t, 1)
	assert.Equal(t, 0, f.tick())

	f.setBattery(t, 21)
	assert.Equal(t, 1, f.tick())
	assert.Equal(t, 0, f.tick())
}

func TestInstanceObservableSeesResourceChange(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("r", nullConn{}, []byte{1},
		model.InstancePath(model.ObjDevice, 0), 0, 101)
	require.NoError(t, err)
	_, err = f.reg.Add("r", nullConn{}, []byte{2},
		model.ObjectPath(model.ObjDevice), 0, 101)
	require.NoError(t, err)

	f.setBattery(t, 30)
	assert.Equal(t, 2, f.tick())
}

func TestConCadence(t *testing.T) {
	f := newFixture(t)
	f.reg.ConInterval = 100 * time.Second

	_, err := f.reg.Add("r", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)

	f.at(t, 50)
	f.setBattery(t, 1)
	require.Equal(t, 1, f.tick())
	f.at(t, 100)
	f.setBattery(t, 2)
	require.Equal(t, 1, f.tick())
	f.at(t, 150)
	f.setBattery(t, 3)
	require.Equal(t, 1, f.tick())
	f.at(t, 201)
	f.setBattery(t, 4)
	require.Equal(t, 1, f.tick())

	assert.Equal(t, []bool{false, true, false, true}, f.sent)
}

func TestNotReadyHoldsNotifications(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("r", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)

	f.setBattery(t, 50)
	f.reg.Tick(func(ssid uint16) bool { return false },
		func(o *Observer, con bool) error {
			t.Fatal("notified while not ready")
			return nil
		})
	assert.Equal(t, 1, f.tick())
}

func TestCancelKeepsWrittenAttributes(t *testing.T) {
	f := newFixture(t)

	o, err := f.reg.Add("r", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)
	require.Len(t, f.pers.obs, 1)
	assert.Equal(t, *o, f.pers.obs[o.Slot])

	devMfr := model.ResourcePath(model.ObjDevice, 0, model.DevManufacturer)
	_, err = f.reg.Add("r", nullConn{}, []byte{2}, devMfr, 0, 101)
	require.NoError(t, err)
	require.NoError(t, f.reg.WriteAttributes(battery, 101,
		[]string{"pmin=5"}))

	assert.True(t, f.reg.Cancel("r", []byte{1}))
	assert.True(t, f.reg.CancelPath("r", devMfr))
	assert.Empty(t, f.pers.obs)

	assert.NotNil(t, f.reg.Metadata(battery, 101))
	assert.Nil(t, f.reg.Metadata(devMfr, 101))
	assert.Len(t, f.pers.metas, 1)
	assert.Equal(t, ";pmin=5", f.reg.AttrString(battery, 101))

	// Clearing the last attribute drops the observable.
	require.NoError(t, f.reg.WriteAttributes(battery, 101,
		[]string{"pmin"}))
	assert.Nil(t, f.reg.Metadata(battery, 101))
	assert.Empty(t, f.pers.metas)
}

func TestAttributeLevels(t *testing.T) {
	f := newFixture(t)

	inst := model.InstancePath(model.ObjDevice, 0)
	require.NoError(t, f.reg.WriteAttributes(
		model.ObjectPath(model.ObjDevice), 101, []string{"pmin=1",
			"pmax=100"}))
	require.NoError(t, f.reg.WriteAttributes(inst, 101,
		[]string{"pmin=2"}))
	require.NoError(t, f.reg.WriteAttributes(battery, 101,
		[]string{"pmin=3"}))

	as := f.reg.Effective(battery, 101)
	assert.Equal(t, 3.0, as.Values[AttrPmin])
	assert.Equal(t, LevelResource, as.Levels[AttrPmin])
	assert.Equal(t, 100.0, as.Values[AttrPmax])
	assert.Equal(t, LevelObject, as.Levels[AttrPmax])

	as = f.reg.Effective(inst, 101)
	assert.Equal(t, 2.0, as.Values[AttrPmin])

	// Thresholds need a numeric resource.
	err := f.reg.WriteAttributes(inst, 101, []string{"gt=5"})
	assert.Equal(t, coap.BadRequest, lwutil.CoapCodeFor(err))
	err = f.reg.WriteAttributes(battery, 101, []string{"gt=5", "lt=6"})
	assert.Equal(t, coap.BadRequest, lwutil.CoapCodeFor(err))
}

func TestRemoveRemoteAndRebind(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("a", nullConn{}, []byte{1}, battery, 0, 101)
	require.NoError(t, err)
	_, err = f.reg.Add("b", nullConn{}, []byte{1}, battery, 0, 102)
	require.NoError(t, err)

	// Lost transport: nothing goes out.
	assert.Equal(t, 2, f.reg.Rebind("b", nil)+f.reg.Rebind("a", nil))
	f.setBattery(t, 99)
	assert.Equal(t, 0, f.tick())

	// New session: forced notification even without a change.
	f.reg.Rebind("a", nullConn{})
	assert.Equal(t, 1, f.tick())

	assert.Equal(t, 1, f.reg.RemoveRemote("b"))
	require.Len(t, f.reg.Observers(), 1)
	assert.Equal(t, "a", f.reg.Observers()[0].Remote)
	assert.Nil(t, f.reg.Metadata(battery, 102))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)

	o := &Observer{Slot: 3, Remote: "a", Token: []byte{7}, Path: battery,
		SSID: 101}
	m := &Metadata{Slot: 1, Path: battery, SSID: 101}
	m.Attrs.Set(AttrPmin, 10, LevelResource)

	f.reg.Restore([]*Observer{o}, []*Metadata{m})
	require.Len(t, f.reg.Observers(), 1)
	assert.Equal(t, KindNumeric, f.reg.Metadata(battery, 101).Kind)

	f.setBattery(t, 70)
	assert.Equal(t, 0, f.tick())

	f.reg.Rebind("a", nullConn{})
	assert.Equal(t, 1, f.tick())

	f.reg.Clear()
	assert.Empty(t, f.reg.Observers())
	assert.Equal(t, 0, f.reg.NumMetadata())
}

func TestObserveMissingPath(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Add("a", nullConn{}, []byte{1},
		model.InstancePath(model.ObjDevice, 5), 0, 101)
	assert.Equal(t, coap.NotFound, lwutil.CoapCodeFor(err))
}
