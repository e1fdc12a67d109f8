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
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
)

// loadState restores objects, registration handles and observers from
// storage, creating factory defaults where nothing is stored.
func (c *Client) loadState() error {
	regs, err := c.ps.LoadObjects(c.st)
	if err != nil {
		return errors.Wrap(err, "failed to load server objects")
	}

	if c.st.Instance(model.ObjSecurity, BootstrapSlot) == nil {
		if err := c.installBootstrapServer(); err != nil {
			return errors.Wrap(err, "failed to install bootstrap server")
		}
	}

	if len(c.cfg.FactoryServers) > 0 && !c.misc.Bootstrapped {
		c.deleteManagementServers()
		if err := c.provisionFactoryServers(); err != nil {
			return errors.Wrap(err, "failed to provision servers")
		}
		regs = nil
	}

	// Servers from an incomplete bootstrap are not trusted.
	if !c.misc.Bootstrapped {
		c.deleteManagementServers()
		regs = nil
	}

	c.rebuildSlots(regs)
	c.saveSlots()

	obs, metas, err := c.ps.LoadObservers()
	if err != nil {
		log.Warnf("failed to load observers: %s", err.Error())
		return nil
	}
	c.observers.Restore(obs, metas)
	log.Debugf("restored %d observers, %d observables", len(obs), len(metas))

	return nil
}

// saveSlot persists the Server record and registration handle of a slot.
func (c *Client) saveSlot(s *Slot) {
	if !s.hasSrv {
		return
	}
	inst := c.st.Instance(model.ObjServer, s.srvInst)
	if inst == nil {
		return
	}

	reg := persist.RegState{
		Registered: s.registered,
		Location:   s.location,
	}
	if err := c.ps.SaveServer(s.Index, inst, reg); err != nil {
		log.Errorf("failed to save %s: %s", s, err.Error())
	}
}

// saveSlots writes the Security and Server records of every slot and
// deletes the records of empty slots.
func (c *Client) saveSlots() error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Errorf("failed to save server records: %s", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for i := 0; i < MaxSlots; i++ {
		s := c.slots[i]

		if inst := c.st.Instance(model.ObjSecurity, uint16(i)); inst != nil &&
			s != nil {

			keep(c.ps.SaveSecurity(i, inst))
		} else {
			keep(c.ps.DeleteSecurity(i))
		}

		if s != nil && s.hasSrv {
			inst := c.st.Instance(model.ObjServer, s.srvInst)
			if inst != nil {
				keep(c.ps.SaveServer(i, inst, persist.RegState{
					Registered: s.registered,
					Location:   s.location,
				}))
				continue
			}
		}
		keep(c.ps.DeleteServer(i))
	}

	return firstErr
}

func (c *Client) saveMisc() error {
	if err := c.ps.SaveMisc(c.misc); err != nil {
		log.Errorf("failed to save client state: %s", err.Error())
		return err
	}
	return nil
}

func (c *Client) setBootstrapped(b bool) error {
	if c.misc.Bootstrapped == b {
		return nil
	}
	log.Infof("bootstrapped=%t", b)
	c.misc.Bootstrapped = b
	return c.saveMisc()
}
