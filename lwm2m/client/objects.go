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
	"strings"

	"github.com/pkg/errors"
	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/fota"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/objects"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2m/task"
)

const (
	VzwBootstrapURI = "coaps://xvzwcdpii.xdev.motive.com:5684"
	AttBootstrapURI = "coaps://bootstrap.dm.iot.att.com:5694"

	DefaultLifetime = 86400
)

func defaultBootstrapURI(c retry.Carrier) string {
	switch c {
	case retry.CarrierVZW:
		return VzwBootstrapURI
	case retry.CarrierATT:
		return AttBootstrapURI
	default:
		return ""
	}
}

// serverHandler implements the executable resources of /1.
type serverHandler struct {
	model.DefaultHandler
	c *Client
}

func (h *serverHandler) OnWrite(inst *model.Instance, rid uint16,
	val interface{}) error {

	switch rid {
	case model.SrvLifetime:
		if n, _ := val.(int64); n <= 0 {
			return lwutil.FmtCoapError(coap.BadRequest,
				"invalid lifetime %v", val)
		}

	case model.SrvBinding:
		if s, _ := val.(string); !model.ValidBinding(s) {
			return lwutil.FmtCoapError(coap.BadRequest,
				"invalid binding \"%v\"", val)
		}
	}

	return nil
}

func (h *serverHandler) OnExecute(inst *model.Instance, rid uint16,
	args []byte) error {

	c := h.c
	s := c.slotByServerInst(inst.InstanceID)

	switch rid {
	case model.SrvDisable:
		if s == nil {
			return lwutil.FmtCoapError(coap.NotFound,
				"no slot for server instance %d", inst.InstanceID)
		}
		c.post(func() { c.disableSlot(s) })
		return nil

	case model.SrvUpdateTrigger:
		if s == nil {
			return lwutil.FmtCoapError(coap.NotFound,
				"no slot for server instance %d", inst.InstanceID)
		}
		c.post(func() { c.requestUpdate(s, false) })
		return nil

	default:
		return h.DefaultHandler.OnExecute(inst, rid, args)
	}
}

func (c *Client) objectACL() model.ACL {
	acl := model.NewACL(model.BootstrapSSID)
	acl.SetDefault(model.PermRead | model.PermWrite | model.PermExecute |
		model.PermObserve)
	return acl
}

func (c *Client) installObjects() error {
	c.st.AddObject(model.SecurityDef, nil)
	c.st.AddObject(model.ServerDef, &serverHandler{c: c})

	c.device = objects.NewDevice(c.st, c.clock, objects.DeviceHooks{
		Reboot: func() error {
			c.post(func() { c.forceState(StateReset) })
			return nil
		},
		FactoryReset: func() error {
			c.post(c.factoryReset)
			return nil
		},
	})

	info := c.cfg.Device
	if info.FwVersion == "" {
		if v, err := c.deps.Modem.FirmwareVersion(); err == nil {
			info.FwVersion = v
		}
	}
	if info.Serial == "" {
		info.Serial = c.imei()
	}
	if err := c.device.Install(info, c.objectACL()); err != nil {
		return errors.Wrap(err, "failed to install device object")
	}

	c.connMon = objects.NewConnMon(c.st)
	apns := c.cfg.APNs
	if len(apns) == 0 && c.carrier == retry.CarrierVZW {
		apns = []string{"", objects.DefaultAdminAPN}
	}
	if err := c.connMon.Install(apns, c.objectACL()); err != nil {
		return errors.Wrap(err, "failed to install connectivity object")
	}

	if c.deps.DFU != nil {
		c.fwQueue = task.NewTaskQueue("fw")
		if err := c.fwQueue.Start(1); err != nil {
			return err
		}
		dl := fota.NewDownloader(c.fwQueue)
		c.fw = fota.NewObject(c.st, dl, c.deps.DFU, fota.Hooks{
			Post:      c.post,
			Scheduled: c.fwScheduled,
		})
		if err := c.fw.Install(c.objectACL()); err != nil {
			return errors.Wrap(err, "failed to install firmware object")
		}
		if c.misc.FwState == persist.FwUpdateExecuted {
			c.fw.Restore(fota.Result(c.misc.FwResult))
		}
	}

	c.st.SetChangeCb(c.onChange)
	return nil
}

// installBootstrapServer creates the factory Security instance of the
// bootstrap server.
func (c *Client) installBootstrapServer() error {
	acl := model.NewACL(model.BootstrapSSID)
	acl.SetDefault(model.PermRead)

	inst, err := c.st.CreateInstance(model.ObjSecurity, BootstrapSlot, acl)
	if err != nil {
		return err
	}

	uri := c.cfg.BootstrapURI
	if uri == "" {
		uri = defaultBootstrapURI(c.carrier)
	}
	mode := model.SecModePSK
	if strings.HasPrefix(uri, "coap://") {
		mode = model.SecModeNoSec
	}

	set := func(rid uint16, v interface{}) {
		c.st.Set(model.ObjSecurity, BootstrapSlot, rid, v)
	}
	set(model.SecServerURI, uri)
	set(model.SecBootstrap, true)
	set(model.SecMode, mode)
	set(model.SecHoldOffTime, c.cfg.BootstrapHoldOff)
	if c.carrier == retry.CarrierVZW {
		set(model.SecShortServerID, VzwBootstrapSSID)
	}

	log.Infof("installed bootstrap server %s", uri)
	return c.ps.SaveSecurity(BootstrapSlot, inst)
}

// provisionFactoryServers installs the configured management servers in
// place of a bootstrap exchange.
func (c *Client) provisionFactoryServers() error {
	for i, fs := range c.cfg.FactoryServers {
		idx := i + 1
		if idx >= MaxSlots {
			log.Warnf("too many factory servers; ignoring %s", fs.URI)
			break
		}

		secACL := model.NewACL(model.BootstrapSSID)
		if _, err := c.st.CreateInstance(model.ObjSecurity, uint16(idx),
			secACL); err != nil {

			return err
		}
		mode := model.SecModeNoSec
		if len(fs.Identity) > 0 && len(fs.PSK) > 0 {
			mode = model.SecModePSK
		}
		c.st.Set(model.ObjSecurity, uint16(idx), model.SecServerURI, fs.URI)
		c.st.Set(model.ObjSecurity, uint16(idx), model.SecBootstrap, false)
		c.st.Set(model.ObjSecurity, uint16(idx), model.SecMode, mode)
		c.st.Set(model.ObjSecurity, uint16(idx), model.SecShortServerID,
			fs.SSID)

		lifetime := fs.Lifetime
		if lifetime <= 0 {
			lifetime = DefaultLifetime
		}
		binding := fs.Binding
		if binding == "" {
			binding = "U"
		}

		srvInst := uint16(i)
		if _, err := c.st.CreateInstance(model.ObjServer, srvInst,
			model.NewACL(fs.SSID)); err != nil {

			return err
		}
		c.st.Set(model.ObjServer, srvInst, model.SrvShortServerID, fs.SSID)
		c.st.Set(model.ObjServer, srvInst, model.SrvLifetime, lifetime)
		c.st.Set(model.ObjServer, srvInst, model.SrvBinding, binding)
		c.st.Set(model.ObjServer, srvInst, model.SrvNotifStoring, false)
	}

	c.misc.Bootstrapped = true
	c.saveMisc()
	return nil
}

type factoryCred struct {
	tag      uint32
	identity []byte
	psk      []byte
}

func (c *Client) factoryCreds() []factoryCred {
	var fcs []factoryCred
	if len(c.cfg.BootstrapIdentity) > 0 && len(c.cfg.BootstrapPSK) > 0 {
		fcs = append(fcs, factoryCred{
			tag:      creds.SecTag(BootstrapSlot),
			identity: c.cfg.BootstrapIdentity,
			psk:      c.cfg.BootstrapPSK,
		})
	}
	for i, fs := range c.cfg.FactoryServers {
		if len(fs.Identity) > 0 && len(fs.PSK) > 0 && i+1 < MaxSlots {
			fcs = append(fcs, factoryCred{
				tag:      creds.SecTag(i + 1),
				identity: fs.Identity,
				psk:      fs.PSK,
			})
		}
	}
	return fcs
}

func (c *Client) credsPresent(tag uint32) bool {
	idOk, err := c.deps.Creds.IdentityExists(tag)
	if err != nil {
		return false
	}
	pskOk, err := c.deps.Creds.PSKExists(tag)
	if err != nil {
		return false
	}
	return idOk && pskOk
}

func (c *Client) onChange(p model.Path) {
	c.observers.ValueChanged(p)

	if p.Obj != model.ObjServer || p.Len != 3 {
		return
	}

	s := c.slotByServerInst(p.Inst)
	if s == nil || c.state.bootstrapPhase() {
		return
	}

	if (p.Res == model.SrvLifetime || p.Res == model.SrvBinding) &&
		s.registered {

		s.updateReq = true
	}
	c.saveSlot(s)
}

func (c *Client) serverDefaults(ssid uint16) (int64, int64) {
	s := c.slotBySSID(ssid)
	if s == nil {
		return 0, 0
	}
	srv, ok := c.server(s)
	if !ok {
		return 0, 0
	}
	return srv.DefaultPmin, srv.DefaultPmax
}

// deleteManagementServers removes every Security instance but the
// bootstrap server's and every Server instance.
func (c *Client) deleteManagementServers() {
	for _, inst := range c.st.Instances(model.ObjSecurity) {
		if model.SecurityFrom(inst).Bootstrap {
			continue
		}
		c.st.DeleteInstance(model.ObjSecurity, inst.InstanceID)
	}
	for _, inst := range c.st.Instances(model.ObjServer) {
		c.st.DeleteInstance(model.ObjServer, inst.InstanceID)
	}
}

func (c *Client) fwScheduled() error {
	ver, err := c.deps.Modem.FirmwareVersion()
	if err != nil {
		return errors.Wrap(err, "failed to read modem firmware version")
	}

	id := fota.VersionUUID(ver)
	c.misc.FwState = persist.FwUpdateScheduled
	c.misc.FwVersion = id[:]
	if err := c.ps.SaveMisc(c.misc); err != nil {
		return err
	}

	c.post(func() { c.forceState(StateReset) })
	return nil
}

func (c *Client) factoryReset() {
	log.Infof("factory reset")

	c.closeAll()
	c.timers = newTimers(c.clock)
	c.observers.Clear()

	if err := c.ps.Wipe(); err != nil {
		log.Errorf("failed to wipe client state: %s", err.Error())
	}
	for i := 1; i < MaxSlots; i++ {
		if err := c.deps.Creds.Delete(creds.SecTag(i)); err != nil &&
			!creds.IsNotFound(err) {

			log.Warnf("failed to delete credentials of slot %d: %s", i,
				err.Error())
		}
	}

	for _, inst := range c.st.Instances(model.ObjSecurity) {
		c.st.DeleteInstance(model.ObjSecurity, inst.InstanceID)
	}
	for _, inst := range c.st.Instances(model.ObjServer) {
		c.st.DeleteInstance(model.ObjServer, inst.InstanceID)
	}

	c.misc = persist.Misc{
		MSISDN:   c.misc.MSISDN,
		Operator: c.misc.Operator,
	}
	c.saveMisc()

	if err := c.installBootstrapServer(); err != nil {
		log.Errorf("failed to install bootstrap server: %s", err.Error())
	}
	if len(c.cfg.FactoryServers) > 0 {
		if err := c.provisionFactoryServers(); err != nil {
			log.Errorf("failed to provision servers: %s", err.Error())
		}
	}
	c.slots = [MaxSlots]*Slot{}
	c.rebuildSlots(nil)
	c.saveSlots()
	c.pdnRetry.Reset()

	if c.linkUp {
		c.forceState(StateRequestConnect)
	} else {
		c.forceState(StateLinkDown)
	}
}
