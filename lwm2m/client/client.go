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

// Package client implements the LwM2M client state machine: bootstrap,
// registration with up to three management servers, request handling and
// observation.  All protocol work happens on one loop driven by Step.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/fota"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/objects"
	"mynewt.apache.org/lwm2mclient/lwm2m/observe"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2m/task"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

const (
	// Interval between loop iterations when nothing wakes the loop.
	StepInterval = 100 * time.Millisecond

	// Time the bootstrap server has to finish after acknowledging the
	// bootstrap request.
	BootstrapTimeout = 20 * time.Second

	// UPDATE is sent this long before the lifetime expires.
	LifetimeMargin = 4 * time.Second

	DefaultResolveTimeout = 10 * time.Second

	// Maximum wait for an IPv6 address after a PDN came up.
	PdnIPv6Wait = 30 * time.Second

	postQueueDepth  = 64
	rxQueueDepth    = 64
	maxEventHistory = 32
)

// FactoryServer describes a management server provisioned without
// bootstrap.
type FactoryServer struct {
	URI      string
	SSID     uint16
	Lifetime int64
	Binding  string
	Identity []byte
	PSK      []byte
}

type Config struct {
	// CarrierGeneric selects the carrier from the network operator.
	Carrier retry.Carrier

	// Treat a roaming registration like home.
	RoamAsHome bool

	BootstrapURI     string
	BootstrapHoldOff int64

	// Credentials of the bootstrap server, installed when the credential
	// store lacks them.
	BootstrapIdentity []byte
	BootstrapPSK      []byte

	// Skip bootstrap and use these servers.
	FactoryServers []FactoryServer

	DisableFallback bool
	ResolveTimeout  time.Duration
	ConInterval     time.Duration

	Device objects.DeviceInfo
	APNs   []string
}

// Deps holds the platform services the client runs on.
type Deps struct {
	Clock    lwutil.Clock
	Modem    modem.Modem
	Resolver modem.Resolver
	Dialer   xport.Dialer
	Creds    creds.Store
	KV       persist.KV

	// Optional firmware sink for /5; nil disables firmware update.
	DFU fota.DFU

	Events EventFn

	// Restarts the host after the modem was shut down.
	SystemReset func() error
}

type rxItem struct {
	sess xport.Session
	data []byte
}

type snapshot struct {
	state     State
	slots     []SlotStatus
	observers []observe.Observer
	events    []Event
	endpoint  string
	carrier   retry.Carrier
}

type Client struct {
	cfg     Config
	deps    Deps
	clock   lwutil.Clock
	carrier retry.Carrier
	profile retry.Profile

	st        *model.Store
	ps        *persist.Store
	engine    *lwcoap.Engine
	observers *observe.Registry
	timers    *timers
	device    *objects.Device
	connMon   *objects.ConnMon
	fw        *fota.Object
	fwQueue   *task.TaskQueue

	state    State
	slots    [MaxSlots]*Slot
	focus    int
	misc     persist.Misc
	endpoint string
	msisdn   string

	linkUp            bool
	bsFinished        bool
	deregAll          bool
	ready             bool
	deferred          bool
	factoryCredsTried bool

	pdnUp      map[string]bool
	pdnSince   map[string]time.Duration
	pdnRetry   *retry.Counter
	lastObsTck time.Duration

	postCh chan func()
	rxCh   chan rxItem
	wakeCh chan struct{}

	events []Event

	snapMtx sync.Mutex
	snap    snapshot
}

func New(cfg Config, deps Deps) (*Client, error) {
	if deps.Modem == nil || deps.Dialer == nil || deps.Creds == nil ||
		deps.KV == nil || deps.Resolver == nil {

		return nil, errors.New("client requires a modem, resolver, dialer, " +
			"credential store and key-value store")
	}
	if deps.Clock == nil {
		deps.Clock = lwutil.NewSysClock()
	}
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}

	c := &Client{
		cfg:      cfg,
		deps:     deps,
		clock:    deps.Clock,
		st:       model.NewStore(),
		ps:       persist.New(deps.KV),
		engine:   lwcoap.NewEngine(deps.Clock),
		timers:   newTimers(deps.Clock),
		state:    StateBooting,
		pdnUp:    map[string]bool{},
		pdnSince: map[string]time.Duration{},
		postCh:   make(chan func(), postQueueDepth),
		rxCh:     make(chan rxItem, rxQueueDepth),
		wakeCh:   make(chan struct{}, 1),
	}

	c.observers = observe.NewRegistry(c.clock, c.st, c.serverDefaults, c.ps)
	if cfg.ConInterval > 0 {
		c.observers.ConInterval = cfg.ConInterval
	}

	return c, nil
}

// Init performs platform initialization: modem identity, persisted state,
// the object model and the pending firmware check.  The client is left in
// LinkDown or ModemFirmwareUpdate, waiting for Step.
func (c *Client) Init() error {
	if c.state != StateBooting {
		return lwutil.NewAlreadyError("client already initialized")
	}

	if err := c.initCarrier(); err != nil {
		return err
	}

	misc, err := c.ps.LoadMisc()
	if err != nil {
		return errors.Wrap(err, "failed to load client state")
	}
	c.misc = misc

	if err := c.installObjects(); err != nil {
		return err
	}

	if err := c.loadState(); err != nil {
		return err
	}

	c.detectSimChange()

	c.endpoint = ClientID(c.carrier, c.imei(), c.msisdn)
	log.Infof("endpoint %s carrier %s bootstrapped=%t", c.endpoint,
		c.carrier, c.misc.Bootstrapped)

	c.deps.Modem.SetRegStatusCb(c.onRegStatus)
	c.emitSimple(EventModemInit, -1)

	if c.misc.FwState == persist.FwUpdateScheduled {
		c.state = StateModemFirmwareUpdate
	} else {
		c.state = StateLinkDown
	}
	c.publish()

	return nil
}

func (c *Client) imei() string {
	imei, err := c.deps.Modem.IMEI()
	if err != nil {
		log.Warnf("failed to read IMEI: %s", err.Error())
	}
	return imei
}

func (c *Client) initCarrier() error {
	c.carrier = c.cfg.Carrier
	if c.carrier == retry.CarrierGeneric {
		op, err := c.deps.Modem.Operator()
		if err != nil {
			log.Warnf("failed to read operator: %s", err.Error())
		} else {
			c.carrier = retry.CarrierForOperator(op)
		}
	}
	c.profile = retry.ProfileFor(c.carrier)
	c.pdnRetry = retry.NewCounter(c.profile.Pdn)

	msisdn, err := c.deps.Modem.MSISDN()
	if err != nil {
		log.Warnf("failed to read MSISDN: %s", err.Error())
	}
	c.msisdn = msisdn
	return nil
}

// detectSimChange forgets bootstrap results obtained with another SIM.
func (c *Client) detectSimChange() {
	op, _ := c.deps.Modem.Operator()

	changed := false
	if c.misc.MSISDN != "" && c.misc.MSISDN != c.msisdn {
		log.Infof("MSISDN changed: %s -> %s", c.misc.MSISDN, c.msisdn)
		changed = true
	}
	if c.misc.Operator != "" && op != "" && c.misc.Operator != op {
		log.Infof("operator changed: %s -> %s", c.misc.Operator, op)
		changed = true
	}

	if changed && c.misc.Bootstrapped && len(c.cfg.FactoryServers) == 0 {
		c.misc.Bootstrapped = false
		c.deleteManagementServers()
		c.rebuildSlots(nil)
		c.observers.Clear()
		c.saveSlots()
	}

	c.misc.MSISDN = c.msisdn
	if op != "" {
		c.misc.Operator = op
	}
	c.saveMisc()
}

// post queues fn to run on the client loop.
func (c *Client) post(fn func()) {
	select {
	case c.postCh <- fn:
	default:
		log.Errorf("client post queue full; dropping work")
	}
	c.wake()
}

func (c *Client) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

func (c *Client) onRx(sess xport.Session, data []byte) {
	select {
	case c.rxCh <- rxItem{sess: sess, data: data}:
	default:
		log.Warnf("client rx queue full; dropping %d bytes", len(data))
	}
	c.wake()
}

func (c *Client) drainPosted() {
	for {
		select {
		case fn := <-c.postCh:
			fn()
		default:
			return
		}
	}
}

func (c *Client) drainRx() {
	for {
		select {
		case item := <-c.rxCh:
			c.input(item.sess, item.data)
		default:
			return
		}
	}
}

func (c *Client) input(sess xport.Session, data []byte) {
	s := c.slotBySession(sess)
	if s == nil {
		log.Debugf("dropping %d bytes from stale session", len(data))
		return
	}

	req := c.engine.Input(sess, data)
	if req != nil {
		c.handleRequest(s, req)
	}
}

// Step runs one iteration of the client loop.
func (c *Client) Step() {
	c.drainPosted()
	c.drainRx()
	c.timers.fire()
	c.engine.TimeTick()

	if now := c.clock.Uptime(); now-c.lastObsTck >= time.Second {
		c.lastObsTck = now
		c.observers.Tick(c.notifyReady, c.sendNotification)
	}

	c.runFSM()
	c.publish()
}

// Done reports whether the loop has nothing more to do: the device shut
// down, or a reset was deferred by the application.
func (c *Client) Done() bool {
	return c.state == StateShutdown || c.deferred
}

// Run drives the client until ctx is cancelled or the client shuts down.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.Step()
		if c.Done() {
			return nil
		}

		select {
		case <-ctx.Done():
			c.closeAll()
			return ctx.Err()
		case <-c.wakeCh:
		case <-time.After(StepInterval):
		}
	}
}

/* Public requests.  Each is queued and takes effect on the next Step. */

// RequestConnect starts connecting from Disconnected or LinkDown.
func (c *Client) RequestConnect() {
	c.post(func() {
		switch c.state {
		case StateDisconnected, StateLinkDown:
			c.forceState(StateRequestConnect)
		default:
			log.Debugf("connect request ignored in state %s", c.state)
		}
	})
}

func (c *Client) RequestDisconnect() {
	c.post(func() {
		switch c.state {
		case StateBooting, StateShutdown, StateReset, StateDisconnected,
			StateLinkDown:
			return
		}
		c.forceState(StateRequestDisconnect)
	})
}

// RequestServerUpdate asks for an UPDATE to the server in slot idx.  With
// reconnect the session is re-established first.
func (c *Client) RequestServerUpdate(idx int, reconnect bool) {
	c.post(func() { c.requestUpdate(c.slot(idx), reconnect) })
}

func (c *Client) requestUpdate(s *Slot, reconnect bool) {
	if s == nil || s.Index == BootstrapSlot {
		return
	}
	s.updateReq = true
	if reconnect {
		s.reconnectReq = true
	}
}

func (c *Client) RequestServerDeregister(idx int) {
	c.post(func() {
		s := c.slot(idx)
		if s != nil && s.Index != BootstrapSlot {
			s.deregReq = true
		}
	})
}

// RequestDeregisterAll deregisters every server, then disconnects.
func (c *Client) RequestDeregisterAll() {
	c.post(func() {
		c.deregAll = true
		for _, s := range c.managementSlots() {
			s.deregReq = true
		}
	})
}

func (c *Client) RequestReset() {
	c.post(func() {
		if c.state != StateShutdown {
			c.forceState(StateReset)
		}
	})
}

// ObservableValueChanged marks a resource changed by the application.
func (c *Client) ObservableValueChanged(p model.Path) {
	c.post(func() { c.observers.ValueChanged(p) })
}

// Set writes an application-owned resource value.
func (c *Client) Set(p model.Path, v interface{}) {
	c.post(func() {
		if err := c.st.Set(p.Obj, p.Inst, p.Res, v); err != nil {
			log.Warnf("failed to set %s: %s", p, err.Error())
		}
	})
}

func (c *Client) FactoryReset() {
	c.post(func() { c.factoryReset() })
}

// StartFirmwareDownload writes a package URI to /5/0 on behalf of the
// application.
func (c *Client) StartFirmwareDownload(uri string) {
	c.post(func() {
		p := model.ResourcePath(model.ObjFirmware, 0, model.FwPackageURI)
		if err := c.st.WriteText(p, []byte(uri), false); err != nil {
			log.Warnf("firmware download not started: %s", err.Error())
		}
	})
}

/* Snapshots.  Safe to call from any goroutine. */

func (c *Client) publish() {
	snap := snapshot{
		state:     c.state,
		observers: c.observers.Observers(),
		events:    append([]Event(nil), c.events...),
		endpoint:  c.endpoint,
		carrier:   c.carrier,
	}
	for _, s := range c.slots {
		if s != nil {
			snap.slots = append(snap.slots, c.slotStatus(s))
		}
	}

	c.snapMtx.Lock()
	c.snap = snap
	c.snapMtx.Unlock()
}

func (c *Client) State() State {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return c.snap.state
}

func (c *Client) Slots() []SlotStatus {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return append([]SlotStatus(nil), c.snap.slots...)
}

func (c *Client) Observers() []observe.Observer {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return append([]observe.Observer(nil), c.snap.observers...)
}

// Events returns the most recent events, oldest first.
func (c *Client) Events() []Event {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return append([]Event(nil), c.snap.events...)
}

func (c *Client) Endpoint() string {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return c.snap.endpoint
}

func (c *Client) Carrier() retry.Carrier {
	c.snapMtx.Lock()
	defer c.snapMtx.Unlock()
	return c.snap.carrier
}

// Store exposes the object model.  It must only be used from the client
// loop or before Run starts.
func (c *Client) Store() *model.Store {
	return c.st
}
