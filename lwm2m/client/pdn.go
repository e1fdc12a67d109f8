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
	"context"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/objects"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

// apnFor returns the access point a slot connects through.  On Verizon
// every server except the repository uses the administrative APN.
func (c *Client) apnFor(s *Slot) string {
	if c.carrier != retry.CarrierVZW {
		return ""
	}
	if s.Index != BootstrapSlot && c.ssidOf(s) == VzwRepositorySSID {
		return ""
	}
	return objects.AdminAPN(c.st)
}

// ensurePDN activates apn if needed and waits for it to get an IPv6
// address.  It returns an InProgressError while waiting.
func (c *Client) ensurePDN(apn string) error {
	now := c.clock.Uptime()

	if !c.pdnUp[apn] {
		log.Infof("activating PDN %s", apn)
		if err := c.deps.Modem.ActivatePDN(apn); err != nil {
			if lwutil.IsPdnDown(err) {
				return err
			}
			return lwutil.NewPdnDownError(
				"failed to activate PDN " + apn + ": " + err.Error())
		}
		c.pdnUp[apn] = true
		c.pdnSince[apn] = now
	}

	ready, err := c.deps.Modem.IPv6Ready(apn)
	if err != nil {
		if lwutil.IsPdnDown(err) {
			c.pdnUp[apn] = false
		}
		return err
	}
	if !ready && now-c.pdnSince[apn] < PdnIPv6Wait {
		return lwutil.NewInProgressError("waiting for IPv6 on " + apn)
	}

	return nil
}

func (c *Client) deactivatePDNs() {
	for apn, up := range c.pdnUp {
		if !up {
			continue
		}
		if err := c.deps.Modem.DeactivatePDN(apn); err != nil {
			log.Warnf("failed to deactivate PDN %s: %s", apn, err.Error())
		}
		delete(c.pdnUp, apn)
	}
}

// connect resolves the server of a slot and opens its session.  A secure
// session may come back still handshaking, flagged by an InProgressError.
func (c *Client) connect(s *Slot) error {
	sec, ok := c.security(s)
	if !ok {
		return lwutil.NewError(lwutil.KindNotFound,
			"no security instance for "+s.String())
	}

	uri, err := ParseServerURI(sec.URI)
	if err != nil {
		return err
	}

	apn := c.apnFor(s)
	if apn != "" {
		if err := c.ensurePDN(apn); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		c.cfg.ResolveTimeout)
	ip, err := c.deps.Resolver.Resolve(ctx, uri.Host, s.family, apn)
	cancel()
	if err != nil {
		return err
	}

	params := xport.Params{
		Addr:   &net.UDPAddr{IP: ip, Port: uri.Port},
		Secure: uri.Secure,
		SecTag: creds.SecTag(s.Index),
		APN:    apn,
	}
	log.Infof("%s: connecting to %s", s, params)

	sess, err := c.deps.Dialer.Dial(params, c.onRx)
	if sess == nil {
		if err == nil {
			err = lwutil.NewXportError("dialer returned no session")
		}
		return err
	}

	s.sess = sess
	s.pending = lwutil.IsInProgress(err)
	if err != nil && !s.pending {
		c.closeSlot(s)
		return err
	}

	return err
}

// closeSlot tears down the session of a slot.  Outstanding exchanges fail
// and observers of the server stay registered but unbound.
func (c *Client) closeSlot(s *Slot) {
	if s == nil || s.sess == nil {
		return
	}

	sess := s.sess
	s.sess = nil
	s.pending = false
	s.updating = false

	c.engine.Abort(sess, lwutil.NewXportError("session closed"))
	if err := sess.Close(); err != nil {
		log.Debugf("%s: close: %s", s, err.Error())
	}
	if s.Index != BootstrapSlot {
		c.observers.Rebind(c.remoteKey(s), nil)
	}

	log.Infof("%s: disconnected", s)
}

func (c *Client) closeAll() {
	for _, s := range c.slots {
		c.closeSlot(s)
	}
	c.deactivatePDNs()
}

func (c *Client) onSessionUp(s *Slot) {
	log.Infof("%s: connected to %s", s, s.sess.Remote())
	c.pdnRetry.Reset()
	if s.Index != BootstrapSlot {
		c.observers.Rebind(c.remoteKey(s), s.sess)
	}
	c.emitSimple(EventConnected, s.Index)
}

// startConnect runs one connect attempt for the slot in focus.
func (c *Client) startConnect(s *Slot, connState State, waitState State,
	upState State, retryState State) {

	err := c.connect(s)
	switch {
	case err == nil:
		c.onSessionUp(s)
		c.transition(upState)

	case lwutil.IsInProgress(err):
		if s.sess != nil {
			c.transition(waitState)
		}
		// Otherwise the PDN is still coming up; try again next step.

	default:
		c.connectFailed(s, err, false, connState, retryState)
	}
}

// pollConnect checks a handshake in progress.
func (c *Client) pollConnect(s *Slot, connState State, upState State,
	retryState State) {

	if s.sess == nil {
		c.transition(connState)
		return
	}

	err := s.sess.Poll()
	switch {
	case err == nil:
		s.pending = false
		c.onSessionUp(s)
		c.transition(upState)

	case lwutil.IsInProgress(err):

	default:
		c.connectFailed(s, err, true, connState, retryState)
	}
}

func fatalConnectErr(err error) bool {
	if _, ok := errors.Cause(err).(*UnsupportedProtocolError); ok {
		return true
	}
	return lwutil.KindOf(err) == lwutil.KindBadRequest
}

// connectFailed classifies a failed connect attempt.  PDN loss and the
// first IPv6 to IPv4 fallback do not consume a retry.  Only the resolver
// reports response timeouts, so a timeout here is a DNS timeout.
func (c *Client) connectFailed(s *Slot, err error, dtls bool,
	connState State, retryState State) {

	log.Warnf("%s: connect failed: %s", s, err.Error())
	c.closeSlot(s)

	switch {
	case lwutil.IsPdnDown(err):
		delay, _, perr := c.pdnRetry.Next()
		if perr == nil {
			for apn := range c.pdnUp {
				c.pdnUp[apn] = false
			}
			s.retryWait = true
			c.timers.set(slotTimer("pdn", s.Index), delay, func() {
				s.retryWait = false
				if c.state == retryState && c.focus == s.Index {
					c.transition(connState)
				}
			})
			c.transition(retryState)
			return
		}
		c.pdnRetry.Reset()

	case (lwutil.IsNoAddress(err) || lwutil.IsRspTimeout(err)) &&
		s.family == modem.FamilyIPv6 && !c.cfg.DisableFallback &&
		!s.fellBack:

		log.Infof("%s: falling back to IPv4", s)
		s.family = modem.FamilyIPv4
		s.fellBack = true
		return

	case fatalConnectErr(err):
		if s.Index == BootstrapSlot {
			c.bootstrapFailed(0)
		} else {
			s.parked = true
			c.emitError(ErrorConnectFail, s.Index, 0)
			c.transition(StateIdle)
		}
		return
	}

	c.scheduleRetry(s, dtls, connState, retryState)
}

// scheduleRetry arms the next connect attempt of a slot from its retry
// table.
func (c *Client) scheduleRetry(s *Slot, dtls bool, connState State,
	retryState State) {

	delay, last, err := s.retry.Next()
	if err != nil {
		log.Errorf("%s: %s", s, err.Error())
		s.retry.Reset()
		if s.Index == BootstrapSlot {
			c.bootstrapFailed(0)
		} else {
			s.parked = true
			c.emitError(ErrorConnectFail, s.Index, 0)
			c.transition(StateIdle)
		}
		return
	}

	if last {
		c.emitSimple(EventDeferred, s.Index)
		if c.carrier == retry.CarrierVZW && dtls &&
			s.Index != BootstrapSlot {

			// The server no longer accepts our credentials.
			c.setBootstrapped(false)
		}
	}

	log.Infof("%s: retry %d in %s", s, s.retry.Attempts(), delay)

	s.retryWait = true
	c.timers.set(slotTimer("retry", s.Index), delay, func() {
		s.retryWait = false

		if s.Index == BootstrapSlot {
			if c.state == retryState {
				c.transition(connState)
			}
			return
		}

		if !c.misc.Bootstrapped {
			if c.state == StateIdle || c.state == StateServerConnectRetryWait {
				c.forceState(StateRequestConnect)
			}
			return
		}

		if c.state == StateServerConnectRetryWait && c.focus == s.Index {
			c.transition(StateServerConnect)
		}
	})
	c.transition(retryState)
}

// withModemOffline runs fn with the modem detached from the network; the
// credential store only accepts writes then.
func (c *Client) withModemOffline(fn func() error) error {
	if err := c.deps.Modem.SetOnline(false); err != nil {
		return errors.Wrap(err, "failed to take modem offline")
	}
	c.linkUp = false

	ferr := fn()

	if err := c.deps.Modem.SetOnline(true); err != nil {
		if ferr == nil {
			ferr = errors.Wrap(err, "failed to bring modem online")
		}
	}
	return ferr
}

// installCredentials writes the PSK of every Security instance into the
// credential store and drops the key from memory.  It reports whether the
// modem was taken offline.
func (c *Client) installCredentials() (bool, error) {
	var todo []*Slot
	for _, s := range c.slots {
		if s == nil {
			continue
		}
		if sec, ok := c.security(s); ok && sec.HasCredentials() {
			todo = append(todo, s)
		}
	}
	if len(todo) == 0 {
		return false, nil
	}

	err := c.withModemOffline(func() error {
		for _, s := range todo {
			sec, _ := c.security(s)
			tag := creds.SecTag(s.Index)

			if err := c.deps.Creds.WriteIdentity(tag, sec.Identity); err != nil {
				return errors.Wrapf(err, "sec_tag %d identity", tag)
			}
			if err := c.deps.Creds.WritePSK(tag, sec.PSK); err != nil {
				return errors.Wrapf(err, "sec_tag %d psk", tag)
			}
			creds.Zero(sec.PSK)
			c.st.Clear(model.ObjSecurity, uint16(s.Index), model.SecSecretKey)
			log.Infof("%s: credentials installed at sec_tag %d", s, tag)
		}
		return nil
	})

	return true, err
}

// installFactoryCreds writes configured credentials the store lacks.  It
// reports whether the modem was taken offline.
func (c *Client) installFactoryCreds() bool {
	if c.factoryCredsTried {
		return false
	}

	var missing []factoryCred
	for _, fc := range c.factoryCreds() {
		if !c.credsPresent(fc.tag) {
			missing = append(missing, fc)
		}
	}
	if len(missing) == 0 {
		return false
	}

	c.factoryCredsTried = true
	err := c.withModemOffline(func() error {
		for _, fc := range missing {
			if err := c.deps.Creds.WriteIdentity(fc.tag, fc.identity); err != nil {
				return err
			}
			if err := c.deps.Creds.WritePSK(fc.tag, fc.psk); err != nil {
				return err
			}
			log.Infof("factory credentials installed at sec_tag %d", fc.tag)
		}
		return nil
	})
	if err != nil {
		log.Errorf("failed to install factory credentials: %s", err.Error())
	}

	return true
}
