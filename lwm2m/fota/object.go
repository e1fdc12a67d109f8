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

// Package fota implements the Firmware Update object (/5): pull download of
// a modem image, integrity check and scheduling for apply on reboot.
package fota

import (
	"github.com/looplab/fsm"
	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
)

// State resource values.
type State int

const (
	StateIdle        State = 0
	StateDownloading State = 1
	StateDownloaded  State = 2
	StateUpdating    State = 3
)

var stateNames = []string{"idle", "downloading", "downloaded", "updating"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "???"
	}
	return stateNames[s]
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return StateIdle
}

const (
	evDownload   = "download"
	evDownloaded = "downloaded"
	evUpdate     = "update"
	evFail       = "fail"
	evCancel     = "cancel"
)

// Firmware Update Protocol Support values.
const (
	protoHTTP  = 2
	protoHTTPS = 3
)

type Hooks struct {
	// Post runs fn on the client's loop.  Download completions arrive on a
	// worker goroutine and are funneled through it.
	Post func(fn func())

	// Scheduled is called after a verified image was marked for apply.
	// The client persists the pending update and requests a reboot.
	Scheduled func() error
}

// Object is the handler of /5/0.
type Object struct {
	st    *model.Store
	dl    *Downloader
	dfu   DFU
	hooks Hooks
	fsm   *fsm.FSM
}

func NewObject(st *model.Store, dl *Downloader, dfu DFU, hooks Hooks) *Object {
	o := &Object{
		st:    st,
		dl:    dl,
		dfu:   dfu,
		hooks: hooks,
	}

	idle := StateIdle.String()
	downloading := StateDownloading.String()
	downloaded := StateDownloaded.String()
	updating := StateUpdating.String()

	o.fsm = fsm.NewFSM(idle,
		fsm.Events{
			{Name: evDownload, Src: []string{idle}, Dst: downloading},
			{Name: evDownloaded, Src: []string{downloading}, Dst: downloaded},
			{Name: evUpdate, Src: []string{downloaded}, Dst: updating},
			{Name: evFail, Src: []string{downloading, updating}, Dst: idle},
			{Name: evCancel,
				Src: []string{downloading, downloaded, updating}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				log.Infof("firmware object: %s -> %s (%s)",
					e.Src, e.Dst, e.Event)
				o.setState(parseState(e.Dst))
			},
		},
	)

	return o
}

// Install registers the object and creates /5/0.
func (o *Object) Install(acl model.ACL) error {
	o.st.AddObject(model.FirmwareDef, o)
	if _, err := o.st.CreateInstance(model.ObjFirmware, 0, acl); err != nil {
		return err
	}

	o.st.Set(model.ObjFirmware, 0, model.FwPackageURI, "")
	o.st.Set(model.ObjFirmware, 0, model.FwProtocols,
		[]int64{protoHTTP, protoHTTPS})
	o.st.Set(model.ObjFirmware, 0, model.FwDelivery, 0)
	o.setState(StateIdle)
	o.setResult(ResultInitial)
	return nil
}

func (o *Object) setState(s State) {
	o.st.Set(model.ObjFirmware, 0, model.FwState, int64(s))
}

func (o *Object) setResult(r Result) {
	o.st.Set(model.ObjFirmware, 0, model.FwUpdateResult, int64(r))
}

func (o *Object) State() State {
	return parseState(o.fsm.Current())
}

func (o *Object) Result() Result {
	v, _ := o.st.Get(model.ObjFirmware, 0, model.FwUpdateResult)
	n, _ := v.(int64)
	return Result(n)
}

// Restore reports the outcome of an update applied across a reboot.
func (o *Object) Restore(r Result) {
	o.fsm.SetState(StateIdle.String())
	o.setState(StateIdle)
	o.setResult(r)
}

func (o *Object) event(name string) {
	if err := o.fsm.Event(name); err != nil {
		log.Debugf("firmware object: %s in state %s: %s",
			name, o.fsm.Current(), err.Error())
	}
}

func (o *Object) OnRead(inst *model.Instance, rid int) error {
	return nil
}

func (o *Object) OnWrite(inst *model.Instance, rid uint16,
	val interface{}) error {

	switch rid {
	case model.FwPackageURI:
		uri, _ := val.(string)
		return o.writeURI(uri)

	case model.FwPackage:
		// Push delivery is not offered.
		b, _ := val.([]byte)
		if len(b) == 0 || (len(b) == 1 && b[0] == 0) {
			o.cancel()
			return nil
		}
		return lwutil.NewCoapError(coap.MethodNotAllowed,
			"push delivery not supported")

	default:
		return nil
	}
}

func (o *Object) cancel() {
	if o.State() == StateIdle {
		return
	}

	o.dl.Cancel()
	o.dfu.Abort()
	o.event(evCancel)
	o.setResult(ResultInitial)
}

func (o *Object) writeURI(uri string) error {
	if uri == "" {
		o.cancel()
		o.setResult(ResultInitial)
		return nil
	}

	if o.State() != StateIdle {
		return lwutil.FmtCoapError(coap.BadRequest,
			"firmware update in progress (%s)", o.State())
	}

	if _, err := CheckURI(uri); err != nil {
		// The write is accepted; the failure is reported through the
		// Update Result resource.
		log.Warnf("%s", err.Error())
		o.setResult(ResultFor(err))
		return nil
	}

	o.setResult(ResultInitial)
	o.event(evDownload)

	err := o.dl.Start(uri, o.dfu, nil, func(err error) {
		o.hooks.Post(func() { o.downloadDone(err) })
	})
	if err != nil {
		o.event(evFail)
		o.setResult(ResultFor(err))
	}
	return nil
}

func (o *Object) downloadDone(err error) {
	if o.State() != StateDownloading {
		// Cancelled meanwhile.
		return
	}

	if err != nil {
		log.Warnf("firmware download failed: %s", err.Error())
		o.event(evFail)
		o.setResult(ResultFor(err))
		return
	}

	o.event(evDownloaded)
}

func (o *Object) OnExecute(inst *model.Instance, rid uint16,
	args []byte) error {

	if rid != model.FwUpdate {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"cannot execute /5/0/%d", rid)
	}

	if o.State() != StateDownloaded {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"no image to apply (%s)", o.State())
	}

	o.event(evUpdate)

	if err := o.dfu.Verify(); err != nil {
		log.Errorf("firmware image rejected: %s", err.Error())
		o.dfu.Abort()
		o.event(evFail)
		o.setResult(ResultIntegrity)
		return nil
	}

	if err := o.dfu.Schedule(); err != nil {
		log.Errorf("failed to schedule firmware update: %s", err.Error())
		o.event(evFail)
		o.setResult(ResultFailed)
		return nil
	}

	if o.hooks.Scheduled != nil {
		if err := o.hooks.Scheduled(); err != nil {
			log.Errorf("failed to record firmware update: %s", err.Error())
			o.event(evFail)
			o.setResult(ResultFailed)
		}
	}

	return nil
}
