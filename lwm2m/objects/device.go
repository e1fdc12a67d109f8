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

// Package objects provides the handlers of the device-side objects the
// client always exposes: Device (/3) and Connectivity Monitoring (/4).
package objects

import (
	"time"

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
)

type DeviceInfo struct {
	Manufacturer string
	Model        string
	Serial       string
	FwVersion    string
	HwVersion    string
	SwVersion    string
	DeviceType   string
}

type DeviceHooks struct {
	Reboot       func() error
	FactoryReset func() error

	// Optional; reads the battery level in percent.
	Battery func() (int, error)
}

// Device is the handler of /3/0.
type Device struct {
	st    *model.Store
	clock lwutil.Clock
	hooks DeviceHooks

	// Offset between the device clock and the time servers wrote.
	timeOffset time.Duration
}

func NewDevice(st *model.Store, clock lwutil.Clock, hooks DeviceHooks) *Device {
	return &Device{
		st:    st,
		clock: clock,
		hooks: hooks,
	}
}

func (d *Device) Install(info DeviceInfo, acl model.ACL) error {
	d.st.AddObject(model.DeviceDef, d)
	if _, err := d.st.CreateInstance(model.ObjDevice, 0, acl); err != nil {
		return err
	}

	set := func(rid uint16, v interface{}) {
		d.st.Set(model.ObjDevice, 0, rid, v)
	}
	set(model.DevManufacturer, info.Manufacturer)
	set(model.DevModel, info.Model)
	set(model.DevSerial, info.Serial)
	set(model.DevFwVersion, info.FwVersion)
	set(model.DevHwVersion, info.HwVersion)
	set(model.DevSwVersion, info.SwVersion)
	set(model.DevType, info.DeviceType)
	set(model.DevBindings, "UQ")
	set(model.DevPowerSources, []int64{1})
	set(model.DevBatteryLevel, 100)
	set(model.DevErrorCode, []int64{0})
	set(model.DevUtcOffset, "+00:00")
	set(model.DevTimezone, "UTC")
	d.refreshTime()

	return nil
}

// SetBatteryLevel records a new battery reading.  Observers are notified
// through the store's change callback.
func (d *Device) SetBatteryLevel(pct int) error {
	return d.st.Set(model.ObjDevice, 0, model.DevBatteryLevel, pct)
}

func (d *Device) SetFirmwareVersion(v string) error {
	return d.st.Set(model.ObjDevice, 0, model.DevFwVersion, v)
}

func (d *Device) now() time.Time {
	return d.clock.Now().Add(d.timeOffset)
}

func (d *Device) refreshTime() {
	d.st.Set(model.ObjDevice, 0, model.DevCurrentTime, d.now().Unix())
}

func (d *Device) OnRead(inst *model.Instance, rid int) error {
	if rid == model.AllResources || rid == int(model.DevCurrentTime) {
		d.refreshTime()
	}

	if d.hooks.Battery != nil &&
		(rid == model.AllResources || rid == int(model.DevBatteryLevel)) {

		pct, err := d.hooks.Battery()
		if err != nil {
			log.Debugf("battery read failed: %s", err.Error())
		} else {
			d.SetBatteryLevel(pct)
		}
	}

	return nil
}

func (d *Device) OnWrite(inst *model.Instance, rid uint16,
	val interface{}) error {

	if rid == model.DevCurrentTime {
		secs, _ := val.(int64)
		d.timeOffset = time.Unix(secs, 0).Sub(d.clock.Now())
		log.Debugf("device time set; offset=%s", d.timeOffset)
	}
	return nil
}

func (d *Device) OnExecute(inst *model.Instance, rid uint16,
	args []byte) error {

	var fn func() error

	switch rid {
	case model.DevReboot:
		fn = d.hooks.Reboot
	case model.DevFactoryReset:
		fn = d.hooks.FactoryReset
	}

	if fn == nil {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"cannot execute /3/0/%d", rid)
	}
	return fn()
}
